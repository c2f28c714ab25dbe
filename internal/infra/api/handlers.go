package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"freelance-escrow/internal/domain"
	"freelance-escrow/internal/domain/model"
	"freelance-escrow/internal/domain/ports/adapter"
	"freelance-escrow/internal/infra/logging"
	"freelance-escrow/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// maxWebhookBody matches the gateway's documented event size ceiling.
const maxWebhookBody = 65536

type handlers struct {
	escrow  usecase.EscrowUseCase
	connect usecase.ConnectUseCase
	subs    usecase.SubscriptionUseCase
	hooks   usecase.WebhookUseCase
	logger  *zerolog.Logger
}

// orSelf defaults an omitted user id to the caller.
func orSelf(id string, r *http.Request) string {
	if id != "" {
		return id
	}
	return CallerFrom(r.Context())
}

// ----- connected accounts -----

type createAccountRequest struct {
	UserID string `json:"user_id"`
}

func (h *handlers) createConnectAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	res, err := h.connect.CreateAccount(r.Context(), orSelf(req.UserID, r), CallerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"account_id":     res.AccountID,
		"onboarding_url": res.OnboardingURL,
	})
}

type accountStatusResponse struct {
	AccountID        string `json:"account_id"`
	Status           string `json:"status"`
	ChargesEnabled   bool   `json:"charges_enabled"`
	PayoutsEnabled   bool   `json:"payouts_enabled"`
	DetailsSubmitted bool   `json:"details_submitted"`
}

func (h *handlers) connectStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.connect.CheckStatus(r.Context(), chi.URLParam(r, "accountId"), CallerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountStatusResponse{
		AccountID:        st.AccountID,
		Status:           string(st.Status),
		ChargesEnabled:   st.ChargesEnabled,
		PayoutsEnabled:   st.PayoutsEnabled,
		DetailsSubmitted: st.DetailsSubmitted,
	})
}

type accountLinkRequest struct {
	UserID     string `json:"user_id"`
	ReturnURL  string `json:"return_url"`
	RefreshURL string `json:"refresh_url"`
}

func (h *handlers) createAccountLink(w http.ResponseWriter, r *http.Request) {
	var req accountLinkRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	url, err := h.connect.CreateAccountLink(r.Context(), orSelf(req.UserID, r), req.ReturnURL, req.RefreshURL, CallerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"url": url})
}

// ----- escrow -----

type holdRequest struct {
	JobID      string          `json:"job_id"`
	ProposalID string          `json:"proposal_id"`
	Amount     decimal.Decimal `json:"amount"`
}

type holdResponse struct {
	PaymentID     string `json:"payment_id"`
	PaymentHoldID string `json:"payment_hold_id"`
	ClientSecret  string `json:"client_secret"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
}

func (h *handlers) createHold(w http.ResponseWriter, r *http.Request) {
	var req holdRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.escrow.CreateJobHold(r.Context(), req.JobID, req.ProposalID, req.Amount, CallerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, holdResponse{
		PaymentID:     res.PaymentID,
		PaymentHoldID: res.PaymentHoldID,
		ClientSecret:  res.ClientSecret,
		Amount:        money(res.AmountCents),
		Currency:      res.Currency,
	})
}

type releaseRequest struct {
	JobID        string `json:"job_id"`
	FreelancerID string `json:"freelancer_id"`
}

type releaseResponse struct {
	PaymentID        string `json:"payment_id"`
	TransferID       string `json:"transfer_id"`
	Amount           string `json:"amount"`
	PlatformFee      string `json:"platform_fee"`
	FreelancerAmount string `json:"freelancer_amount"`
	Replayed         bool   `json:"replayed"`
}

func (h *handlers) release(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.escrow.Release(r.Context(), req.JobID, req.FreelancerID, CallerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, releaseResponse{
		PaymentID:        res.PaymentID,
		TransferID:       res.TransferID,
		Amount:           money(res.Split.AmountCents),
		PlatformFee:      money(res.Split.PlatformFeeCents),
		FreelancerAmount: money(res.Split.FreelancerAmountCents),
		Replayed:         res.Replayed,
	})
}

type refundRequest struct {
	JobID string `json:"job_id"`
}

func (h *handlers) refund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := h.escrow.RequestRefund(r.Context(), req.JobID, CallerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"refund_id": id})
}

type payoutRequest struct {
	FreelancerID string          `json:"freelancer_id"`
	Amount       decimal.Decimal `json:"amount"`
}

type payoutResponse struct {
	PayoutID    string     `json:"payout_id"`
	Amount      string     `json:"amount"`
	Status      string     `json:"status"`
	ArrivalDate *time.Time `json:"arrival_date,omitempty"`
}

func (h *handlers) payout(w http.ResponseWriter, r *http.Request) {
	var req payoutRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := h.escrow.CreatePayout(r.Context(), orSelf(req.FreelancerID, r), req.Amount, CallerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := payoutResponse{PayoutID: p.ID, Amount: money(p.AmountCents), Status: p.Status}
	if !p.ArrivalDate.IsZero() {
		resp.ArrivalDate = &p.ArrivalDate
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *handlers) balance(w http.ResponseWriter, r *http.Request) {
	b, err := h.escrow.GetBalance(r.Context(), orSelf(r.URL.Query().Get("freelancer_id"), r), CallerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"available": money(b.AvailableCents),
		"pending":   money(b.PendingCents),
	})
}

// ----- subscriptions -----

type checkoutRequest struct {
	UserID     string `json:"user_id"`
	PriceID    string `json:"price_id"`
	Tier       string `json:"tier"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

func (h *handlers) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	url, err := h.subs.CreateCheckout(r.Context(), usecase.CheckoutInput{
		UserID:     orSelf(req.UserID, r),
		CallerID:   CallerFrom(r.Context()),
		PriceID:    req.PriceID,
		Tier:       model.SubscriptionTier(req.Tier),
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"url": url})
}

type cancelRequest struct {
	UserID string `json:"user_id"`
}

func (h *handlers) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	end, err := h.subs.Cancel(r.Context(), orSelf(req.UserID, r), CallerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
		EndDate           *time.Time `json:"end_date,omitempty"`
	}{CancelAtPeriodEnd: true, EndDate: end})
}

// ----- webhook -----

func (h *handlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, domain.InvalidArgument("unreadable payload"))
		return
	}
	outcome, err := h.hooks.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	l := logging.With(r.Context(), h.logger)
	switch {
	case errors.Is(err, adapter.ErrInvalidSignature):
		l.Warn().Err(err).Msg("webhook rejected")
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Code: "invalid_signature", Message: "signature verification failed"}})
	case err != nil:
		l.Error().Err(err).Msg("webhook handling failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{Code: string(domain.CodeInternal), Message: "webhook handling failed"}})
	default:
		l.Debug().Str("outcome", outcome).Msg("webhook acknowledged")
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}
