// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"time"

	"github.com/stayawake/stayawake/internal/model"
	"github.com/stayawake/stayawake/internal/service"
)

// EmailRequest is the body of endpoints that only name an account.
type EmailRequest struct {
	Email string `json:"email"`
}

// CreateLinkRequest is the body of POST /api/urls.
type CreateLinkRequest struct {
	Email string `json:"email"`
	Link  string `json:"link"`
}

// CreateSubscriptionRequest is the body of POST /api/payment/create-subscription.
type CreateSubscriptionRequest struct {
	Email string     `json:"email"`
	Plan  model.Plan `json:"plan"`
}

// GrantCreditRequest is the body of POST /api/admin/credit/grant.
type GrantCreditRequest struct {
	Email  string `json:"email"`
	Amount int64  `json:"amount"`
}

// AccountResponse describes an account after sign-in.
type AccountResponse struct {
	Email              string                   `json:"email"`
	Credit             int64                    `json:"credit"`
	Plan               model.Plan               `json:"plan"`
	SubscriptionStatus model.SubscriptionStatus `json:"subscription_status"`
	IsNewUser          bool                     `json:"is_new_user"`
}

// LinkResponse is a link as shown on the dashboard.
type LinkResponse struct {
	ID        string     `json:"id"`
	URL       string     `json:"url"`
	PingCount int64      `json:"ping_count"`
	LastPing  *time.Time `json:"last_ping"`
	NextPing  time.Time  `json:"next_ping"`
	CreatedAt time.Time  `json:"created_at"`
}

// DashboardUser is the account summary embedded in the dashboard.
type DashboardUser struct {
	Credit             int64                    `json:"credit"`
	Plan               model.Plan               `json:"plan"`
	EffectivePlan      model.Plan               `json:"effective_plan"`
	SubscriptionStatus model.SubscriptionStatus `json:"subscription_status"`
	LinkLimit          int                      `json:"link_limit"`
}

// DashboardResponse is the body of GET /api/user/{email}/links.
type DashboardResponse struct {
	TotalLinks int            `json:"total_links"`
	TotalPings int64          `json:"total_pings"`
	User       DashboardUser  `json:"user"`
	Links      []LinkResponse `json:"links"`
}

// CreditResponse carries a balance.
type CreditResponse struct {
	Credit int64 `json:"credit"`
}

// CreditAddedResponse is the body of a successful top-up or grant.
type CreditAddedResponse struct {
	NewCredit int64 `json:"new_credit"`
	Added     int64 `json:"added"`
}

// CreditLimitResponse explains a rejected top-up.
type CreditLimitResponse struct {
	CurrentCredit     int64 `json:"current_credit"`
	MaximumAllowed    int64 `json:"maximum_allowed"`
	RemainingCapacity int64 `json:"remaining_capacity"`
}

// PlanResponse is the body of GET /api/user/{email}/plan.
type PlanResponse struct {
	Plan               model.Plan               `json:"plan"`
	EffectivePlan      model.Plan               `json:"effective_plan"`
	SubscriptionStatus model.SubscriptionStatus `json:"subscription_status"`
	CurrentPeriodEnd   *time.Time               `json:"current_period_end,omitempty"`
	PingIntervalMins   int                      `json:"ping_interval_minutes"`
	PingCost           int64                    `json:"ping_cost"`
	LinkLimit          int                      `json:"link_limit"`
}

// SubscriptionResponse is the account state after a transition.
type SubscriptionResponse struct {
	Plan               model.Plan               `json:"plan"`
	SubscriptionStatus model.SubscriptionStatus `json:"subscription_status"`
	CurrentPeriodEnd   *time.Time               `json:"current_period_end,omitempty"`
}

// ResponseTimePoint is one charted probe. ResponseTime is in milliseconds.
type ResponseTimePoint struct {
	ResponseTime int64             `json:"response_time"`
	StatusCode   int               `json:"status_code"`
	Outcome      model.PingOutcome `json:"outcome"`
	Timestamp    time.Time         `json:"timestamp"`
}

// PingResponse is one probe record of a link.
type PingResponse struct {
	ID           string            `json:"id"`
	StatusCode   int               `json:"status_code"`
	Outcome      model.PingOutcome `json:"outcome"`
	ResponseTime int64             `json:"response_time"`
	Error        string            `json:"error,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// ToAccountResponse converts an Account model to AccountResponse DTO.
func ToAccountResponse(a *model.Account, isNew bool) *AccountResponse {
	return &AccountResponse{
		Email:              a.Email,
		Credit:             a.Credit,
		Plan:               a.Plan,
		SubscriptionStatus: a.SubscriptionStatus,
		IsNewUser:          isNew,
	}
}

// ToLinkResponse converts a Link model to LinkResponse DTO.
func ToLinkResponse(l *model.Link) LinkResponse {
	return LinkResponse{
		ID:        l.ID,
		URL:       l.URL,
		PingCount: l.PingCount,
		LastPing:  l.LastPingAt,
		NextPing:  l.NextDueAt,
		CreatedAt: l.CreatedAt,
	}
}

// ToDashboardResponse converts a service Dashboard to its DTO.
func ToDashboardResponse(d *service.Dashboard) *DashboardResponse {
	links := make([]LinkResponse, len(d.Links))
	for i, l := range d.Links {
		links[i] = ToLinkResponse(l)
	}
	return &DashboardResponse{
		TotalLinks: d.TotalLinks,
		TotalPings: d.TotalPings,
		User: DashboardUser{
			Credit:             d.Account.Credit,
			Plan:               d.Account.Plan,
			EffectivePlan:      d.Account.EffectivePlan(),
			SubscriptionStatus: d.Account.SubscriptionStatus,
			LinkLimit:          d.Policy.LinkLimit,
		},
		Links: links,
	}
}

// ToPlanResponse converts a service PlanInfo to its DTO.
func ToPlanResponse(p *service.PlanInfo) *PlanResponse {
	return &PlanResponse{
		Plan:               p.Plan,
		EffectivePlan:      p.EffectivePlan,
		SubscriptionStatus: p.SubscriptionStatus,
		CurrentPeriodEnd:   p.CurrentPeriodEnd,
		PingIntervalMins:   int(p.Policy.Interval / time.Minute),
		PingCost:           p.Policy.PingCost,
		LinkLimit:          p.Policy.LinkLimit,
	}
}

// ToSubscriptionResponse converts an Account model to SubscriptionResponse DTO.
func ToSubscriptionResponse(a *model.Account) *SubscriptionResponse {
	return &SubscriptionResponse{
		Plan:               a.Plan,
		SubscriptionStatus: a.SubscriptionStatus,
		CurrentPeriodEnd:   a.CurrentPeriodEnd,
	}
}

// ToResponseTimes converts per-URL service points to their DTO.
func ToResponseTimes(byURL map[string][]service.ResponseTimePoint) map[string][]ResponseTimePoint {
	out := make(map[string][]ResponseTimePoint, len(byURL))
	for url, points := range byURL {
		converted := make([]ResponseTimePoint, len(points))
		for i, p := range points {
			converted[i] = ResponseTimePoint{
				ResponseTime: p.ResponseTime.Milliseconds(),
				StatusCode:   p.StatusCode,
				Outcome:      p.Outcome,
				Timestamp:    p.Timestamp,
			}
		}
		out[url] = converted
	}
	return out
}

// ToPingResponses converts probe records to their DTO.
func ToPingResponses(records []*model.PingRecord) []PingResponse {
	out := make([]PingResponse, len(records))
	for i, r := range records {
		out[i] = PingResponse{
			ID:           r.ID,
			StatusCode:   r.StatusCode,
			Outcome:      r.Outcome,
			ResponseTime: r.ResponseTimeMillis(),
			Error:        r.Error,
			Timestamp:    r.PingedAt,
		}
	}
	return out
}
