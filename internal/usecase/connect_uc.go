package usecase

import (
	"context"

	"github.com/rs/zerolog"

	"freelance-escrow/internal/domain"
	"freelance-escrow/internal/domain/model"
	"freelance-escrow/internal/domain/ports/adapter"
	"freelance-escrow/internal/domain/ports/repository"
	"freelance-escrow/internal/infra/logging"
)

// Compile-time check
var _ ConnectUseCase = (*connectUC)(nil)

// ConnectUseCase manages freelancer payout accounts at the gateway.
type ConnectUseCase interface {
	CreateAccount(ctx context.Context, userID, callerID string) (*OnboardingResult, error)
	CheckStatus(ctx context.Context, accountID, callerID string) (*model.ConnectedAccount, error)
	CreateAccountLink(ctx context.Context, userID, returnURL, refreshURL, callerID string) (string, error)
}

type OnboardingResult struct {
	AccountID     string
	OnboardingURL string
}

type connectUC struct {
	users   repository.UserRepository
	gateway adapter.PaymentGateway
	baseURL string
	log     *zerolog.Logger
}

// NewConnectUseCase builds onboarding return/refresh URLs from baseURL.
func NewConnectUseCase(users repository.UserRepository, gateway adapter.PaymentGateway, baseURL string, logger *zerolog.Logger) *connectUC {
	l := logging.Component(logger, "connect")
	return &connectUC{users: users, gateway: gateway, baseURL: baseURL, log: l}
}

func (u *connectUC) returnURL() string  { return u.baseURL + "/connect/return" }
func (u *connectUC) refreshURL() string { return u.baseURL + "/connect/refresh" }

func (u *connectUC) CreateAccount(ctx context.Context, userID, callerID string) (*OnboardingResult, error) {
	defer logging.TraceDuration(u.log, "ConnectUC.CreateAccount")()

	if callerID == "" {
		return nil, domain.Unauthenticated("sign in to set up payouts")
	}
	if callerID != userID {
		return nil, domain.PermissionDenied("cannot onboard another user")
	}
	user, err := u.users.FindByID(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, storeErr("user", err)
	}

	accountID := ""
	if user.HasConnectedAccount() {
		accountID = user.ConnectedAccount.AccountID
	} else {
		acct, err := u.gateway.CreateConnectedAccount(ctx, adapter.ConnectedAccountRequest{
			Email:    user.Email,
			Metadata: map[string]string{"userId": user.ID},
		})
		if err != nil {
			return nil, domain.Internal("create connected account", err)
		}
		accountID = acct.ID
		if err := u.users.SetConnectedAccount(ctx, repository.NoTX, user.ID, model.ConnectedAccount{
			AccountID: acct.ID,
			Status:    model.ConnectStatusPending,
		}); err != nil {
			return nil, domain.Internal("store connected account", err)
		}
		u.log.Info().Str("user_id", user.ID).Str("account_id", acct.ID).Msg("connected account created")
	}

	link, err := u.gateway.CreateAccountLink(ctx, accountID, u.refreshURL(), u.returnURL())
	if err != nil {
		return nil, domain.Internal("create onboarding link", err)
	}
	return &OnboardingResult{AccountID: accountID, OnboardingURL: link}, nil
}

func (u *connectUC) CheckStatus(ctx context.Context, accountID, callerID string) (*model.ConnectedAccount, error) {
	if callerID == "" {
		return nil, domain.Unauthenticated("sign in to check payout status")
	}
	user, err := u.users.FindByConnectAccountID(ctx, repository.NoTX, accountID)
	if err != nil {
		return nil, storeErr("connected account", err)
	}
	if user.ID != callerID {
		return nil, domain.PermissionDenied("not your connected account")
	}

	acct, err := u.gateway.RetrieveAccount(ctx, accountID)
	if err != nil {
		return nil, domain.Internal("retrieve connected account", err)
	}
	ca := mirrorAccount(acct)
	if err := u.users.SetConnectedAccount(ctx, repository.NoTX, user.ID, ca); err != nil {
		return nil, domain.Internal("store connected account", err)
	}
	return &ca, nil
}

func (u *connectUC) CreateAccountLink(ctx context.Context, userID, returnURL, refreshURL, callerID string) (string, error) {
	if callerID == "" {
		return "", domain.Unauthenticated("sign in to continue onboarding")
	}
	if callerID != userID {
		return "", domain.PermissionDenied("cannot onboard another user")
	}
	user, err := u.users.FindByID(ctx, repository.NoTX, userID)
	if err != nil {
		return "", storeErr("user", err)
	}
	if !user.HasConnectedAccount() {
		return "", domain.FailedPrecondition("create a connected account first")
	}
	if returnURL == "" {
		returnURL = u.returnURL()
	}
	if refreshURL == "" {
		refreshURL = u.refreshURL()
	}
	link, err := u.gateway.CreateAccountLink(ctx, user.ConnectedAccount.AccountID, refreshURL, returnURL)
	if err != nil {
		return "", domain.Internal("create onboarding link", err)
	}
	return link, nil
}

// mirrorAccount copies gateway flags onto the stored shape.
func mirrorAccount(a *adapter.Account) model.ConnectedAccount {
	return model.ConnectedAccount{
		AccountID:        a.ID,
		Status:           model.DeriveConnectStatus(a.DetailsSubmitted, a.DisabledReason),
		ChargesEnabled:   a.ChargesEnabled,
		PayoutsEnabled:   a.PayoutsEnabled,
		DetailsSubmitted: a.DetailsSubmitted,
	}
}
