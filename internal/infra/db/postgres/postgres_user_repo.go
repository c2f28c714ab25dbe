package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"freelance-escrow/internal/domain"
	"freelance-escrow/internal/domain/model"
	"freelance-escrow/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*PostgresUserRepo)(nil)

type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool}
}

const userColumns = `id, email, display_name, role, stripe_customer_id,
  connect_account_id, connect_status, charges_enabled, payouts_enabled, details_submitted,
  subscription_id, subscription_tier, subscription_status, subscription_plan,
  subscription_start, subscription_end, cancel_at_period_end,
  total_earnings_cents, completed_jobs, created_at, updated_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u             model.User
		customerID    *string
		acctID        *string
		acctStatus    *string
		charges       bool
		payouts       bool
		details       bool
		subID, plan   *string
		status        *string
		tier          string
		start, end    *time.Time
		cancelAtEnd   bool
		totalEarnings int64
	)
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, &customerID,
		&acctID, &acctStatus, &charges, &payouts, &details,
		&subID, &tier, &status, &plan,
		&start, &end, &cancelAtEnd,
		&totalEarnings, &u.CompletedJobs, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, mapScanErr(err, domain.ErrUserNotFound)
	}
	u.TotalEarningsCents = totalEarnings
	u.StripeCustomerID = deref(customerID)
	if acctID != nil && *acctID != "" {
		u.ConnectedAccount = &model.ConnectedAccount{
			AccountID:        *acctID,
			Status:           model.ConnectStatus(deref(acctStatus)),
			ChargesEnabled:   charges,
			PayoutsEnabled:   payouts,
			DetailsSubmitted: details,
		}
	}
	u.Billing = model.SubscriptionState{
		StripeSubscriptionID: deref(subID),
		StripeCustomerID:     u.StripeCustomerID,
		Tier:                 model.SubscriptionTier(tier),
		Status:               model.SubscriptionStatus(deref(status)),
		Plan:                 model.BillingInterval(deref(plan)),
		StartDate:            start,
		EndDate:              end,
		CancelAtPeriodEnd:    cancelAtEnd,
	}
	return &u, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Save upserts profile fields only. Gateway-derived state is written through
// the dedicated setters so a profile edit cannot clobber it.
func (r *PostgresUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
INSERT INTO users (id, email, display_name, role, subscription_tier, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
  email=$2, display_name=$3, role=$4, updated_at=$7;`
	tier := u.Billing.Tier
	if tier == "" {
		tier = model.TierFree
	}
	_, err := execSQL(ctx, r.pool, tx, q, u.ID, u.Email, u.DisplayName, u.Role, tier, u.CreatedAt, u.UpdatedAt)
	return mapErr(err)
}

func (r *PostgresUserRepo) findBy(ctx context.Context, tx repository.Tx, column, value string) (*model.User, error) {
	q := forUpdate(`SELECT `+userColumns+` FROM users WHERE `+column+`=$1`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, value)
	if err != nil {
		return nil, err
	}
	return scanUser(row)
}

func (r *PostgresUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	return r.findBy(ctx, tx, "id", id)
}

func (r *PostgresUserRepo) FindByCustomerID(ctx context.Context, tx repository.Tx, customerID string) (*model.User, error) {
	return r.findBy(ctx, tx, "stripe_customer_id", customerID)
}

func (r *PostgresUserRepo) FindByConnectAccountID(ctx context.Context, tx repository.Tx, accountID string) (*model.User, error) {
	return r.findBy(ctx, tx, "connect_account_id", accountID)
}

func (r *PostgresUserRepo) updateOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) error {
	cmd, err := execSQL(ctx, r.pool, tx, q, args...)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *PostgresUserRepo) SetConnectedAccount(ctx context.Context, tx repository.Tx, userID string, acct model.ConnectedAccount) error {
	const q = `
UPDATE users
   SET connect_account_id=$2, connect_status=$3, charges_enabled=$4, payouts_enabled=$5, details_submitted=$6, updated_at=NOW()
 WHERE id=$1`
	return r.updateOne(ctx, tx, q, userID, acct.AccountID, string(acct.Status), acct.ChargesEnabled, acct.PayoutsEnabled, acct.DetailsSubmitted)
}

func (r *PostgresUserRepo) SetStripeCustomerID(ctx context.Context, tx repository.Tx, userID, customerID string) error {
	const q = `UPDATE users SET stripe_customer_id=$2, updated_at=NOW() WHERE id=$1`
	return r.updateOne(ctx, tx, q, userID, customerID)
}

func (r *PostgresUserRepo) UpdateBilling(ctx context.Context, tx repository.Tx, userID string, b model.SubscriptionState) error {
	const q = `
UPDATE users
   SET subscription_id=$2, subscription_tier=$3, subscription_status=$4, subscription_plan=$5,
       subscription_start=$6, subscription_end=$7, cancel_at_period_end=$8, updated_at=NOW()
 WHERE id=$1`
	return r.updateOne(ctx, tx, q, userID, nullable(b.StripeSubscriptionID), string(b.Tier), nullable(string(b.Status)),
		nullable(string(b.Plan)), b.StartDate, b.EndDate, b.CancelAtPeriodEnd)
}

func (r *PostgresUserRepo) SetCancelAtPeriodEnd(ctx context.Context, tx repository.Tx, userID, subscriptionID string, endDate *time.Time) (bool, error) {
	const q = `
UPDATE users
   SET cancel_at_period_end = TRUE,
       subscription_end = COALESCE($3, subscription_end),
       updated_at = NOW()
 WHERE id = $1 AND subscription_id = $2 AND subscription_status = 'active'`
	cmd, err := execSQL(ctx, r.pool, tx, q, userID, subscriptionID, endDate)
	if err != nil {
		return false, mapErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *PostgresUserRepo) AddEarnings(ctx context.Context, tx repository.Tx, userID string, amountCents int64, jobs int) error {
	const q = `
UPDATE users
   SET total_earnings_cents = total_earnings_cents + $2,
       completed_jobs = completed_jobs + $3,
       updated_at = NOW()
 WHERE id=$1`
	return r.updateOne(ctx, tx, q, userID, amountCents, jobs)
}
