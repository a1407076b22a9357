package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/baraholka/api/internal/domain"
	"github.com/baraholka/api/internal/repositories"
)

const defaultCurrency = "EUR"

// Ledger transaction reasons.
const (
	reasonListingSubmission = "listing_submission"
	reasonPackagePurchase   = "package_purchase"
	reasonPromotionPurchase = "promotion_purchase"
)

// Payment methods accepted by CreditPackage.
const (
	PaymentMethodBalance = "balance"
	PaymentMethodInvoice = "invoice"
)

// LedgerServiceDeps bundles dependencies required to construct a LedgerService implementation.
type LedgerServiceDeps struct {
	Users        repositories.UserRepository
	Transactions repositories.TransactionRepository
	Packages     repositories.PackagePurchaseRepository
	UnitOfWork   repositories.UnitOfWork
	// Payments mints checkout invoices for direct package purchases. Optional;
	// without it RequestPackageInvoice fails with ErrPaymentGatewayMissing.
	Payments PaymentGateway
	// PaidListings gates whether DebitForListing checks credits at all.
	PaidListings bool
	Clock        Clock
	Logger       Logger
	IDs          IDGenerator
}

type ledgerService struct {
	users        repositories.UserRepository
	transactions repositories.TransactionRepository
	packages     repositories.PackagePurchaseRepository
	uow          repositories.UnitOfWork
	payments     PaymentGateway
	paidListings bool
	clock        Clock
	log          Logger
	newID        IDGenerator
}

// NewLedgerService wires a LedgerService backed by the provided repositories.
func NewLedgerService(deps LedgerServiceDeps) (LedgerService, error) {
	if deps.Users == nil || deps.Transactions == nil || deps.Packages == nil || deps.UnitOfWork == nil {
		return nil, ErrRepositoriesMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	log := deps.Logger
	if log == nil {
		log = func(context.Context, string, map[string]any) {}
	}
	ids := deps.IDs
	if ids == nil {
		ids = defaultIDGenerator
	}
	return &ledgerService{
		users:        deps.Users,
		transactions: deps.Transactions,
		packages:     deps.Packages,
		uow:          deps.UnitOfWork,
		payments:     deps.Payments,
		paidListings: deps.PaidListings,
		clock:        func() time.Time { return clock().UTC() },
		log:          log,
		newID:        ids,
	}, nil
}

func (s *ledgerService) EnsureAccount(ctx context.Context, telegramID int64) (User, error) {
	userID := fmt.Sprintf("usr_%d", telegramID)

	user, err := s.users.FindByID(ctx, userID)
	if err == nil {
		return user, nil
	}
	if !isRepoNotFound(err) {
		return User{}, err
	}

	now := s.clock()
	user = User{
		ID:         userID,
		TelegramID: telegramID,
		Currency:   defaultCurrency,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.users.Insert(ctx, user); err != nil {
		// A concurrent first request may have created the account already.
		if isRepoConflict(err) {
			return s.users.FindByID(ctx, userID)
		}
		return User{}, err
	}
	s.log(ctx, "ledger.account_created", map[string]any{"user_id": userID})
	return user, nil
}

func (s *ledgerService) GetAccount(ctx context.Context, userID string) (User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	return user, nil
}

// DebitForListing charges one submission. The free quota is consumed first and
// produces no Transaction row; a credit debit writes exactly one usage row in
// the same transaction as the balance mutation.
func (s *ledgerService) DebitForListing(ctx context.Context, userID string) (ListingDebit, error) {
	if !s.paidListings {
		return ListingDebit{}, nil
	}

	var debit ListingDebit
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		user, err := s.users.FindByID(ctx, userID)
		if err != nil {
			if isRepoNotFound(err) {
				return ErrUserNotFound
			}
			return err
		}

		now := s.clock()
		if !user.HasUsedFreeListing {
			user.HasUsedFreeListing = true
			user.UpdatedAt = now
			if err := s.users.Save(ctx, user); err != nil {
				return err
			}
			debit = ListingDebit{FreeQuota: true}
			return nil
		}

		if user.PackageBalance < 1 {
			return ErrInsufficientCredits
		}
		user.PackageBalance--
		user.UpdatedAt = now
		if err := s.users.Save(ctx, user); err != nil {
			return err
		}

		txn := domain.Transaction{
			ID:        s.newID(idPrefixTransaction),
			UserID:    userID,
			Type:      domain.TransactionTypeUsage,
			Direction: domain.TransactionDebit,
			Amount:    1,
			Currency:  user.Currency,
			Kind:      domain.TransactionKindCredits,
			Reason:    reasonListingSubmission,
			CreatedAt: now,
		}
		if err := s.appendAudit(ctx, txn); err != nil {
			return err
		}
		debit = ListingDebit{CreditUsed: true, TransactionID: txn.ID}
		return nil
	})
	if err != nil {
		return ListingDebit{}, err
	}

	s.log(ctx, "ledger.listing_debited", map[string]any{
		"user_id":     userID,
		"free_quota":  debit.FreeQuota,
		"credit_used": debit.CreditUsed,
	})
	return debit, nil
}

func (s *ledgerService) CreditPackage(ctx context.Context, cmd CreditPackageCommand) (PackagePurchase, error) {
	option, ok := domain.PackageOptionByType(cmd.PackageType)
	if !ok {
		return PackagePurchase{}, ErrUnknownPackage
	}
	method := cmd.PaymentMethod
	if method == "" {
		method = PaymentMethodBalance
	}

	var purchase PackagePurchase
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		user, err := s.users.FindByID(ctx, cmd.UserID)
		if err != nil {
			if isRepoNotFound(err) {
				return ErrUserNotFound
			}
			return err
		}

		now := s.clock()
		if method == PaymentMethodBalance {
			if user.Balance < option.Price {
				return ErrInsufficientBalance
			}
			user.Balance -= option.Price
		}
		user.PackageBalance += option.Credits
		user.UpdatedAt = now
		if err := s.users.Save(ctx, user); err != nil {
			return err
		}

		purchase = PackagePurchase{
			ID:            s.newID(idPrefixPackage),
			UserID:        cmd.UserID,
			PackageType:   option.Type,
			Credits:       option.Credits,
			Price:         option.Price,
			Currency:      option.Currency,
			PaymentMethod: method,
			PurchasedAt:   now,
		}
		if option.Validity > 0 {
			expires := now.Add(option.Validity)
			purchase.ExpiresAt = &expires
		}
		if err := s.packages.Append(ctx, purchase); err != nil {
			return err
		}

		// Invoice settlements captured money at the provider; the stored
		// balance never moved, and the audit row must say so.
		kind := domain.TransactionKindBalance
		if method != PaymentMethodBalance {
			kind = domain.TransactionKindExternal
		}
		txn := domain.Transaction{
			ID:        s.newID(idPrefixTransaction),
			UserID:    cmd.UserID,
			Type:      domain.TransactionTypePayment,
			Direction: domain.TransactionDebit,
			Amount:    option.Price,
			Currency:  option.Currency,
			Kind:      kind,
			Reason:    reasonPackagePurchase,
			Metadata: map[string]string{
				"package_type":   option.Type,
				"payment_method": method,
			},
			CreatedAt: now,
		}
		return s.appendAudit(ctx, txn)
	})
	if err != nil {
		return PackagePurchase{}, err
	}

	s.log(ctx, "ledger.package_credited", map[string]any{
		"user_id":      cmd.UserID,
		"package_type": option.Type,
		"credits":      option.Credits,
	})
	return purchase, nil
}

// RequestPackageInvoice mints a provider checkout invoice for a direct package
// purchase. No credits move here; they land when the provider's success
// callback settles through CreditPackage.
func (s *ledgerService) RequestPackageInvoice(ctx context.Context, userID, packageType string) (Invoice, error) {
	if s.payments == nil {
		return Invoice{}, ErrPaymentGatewayMissing
	}
	option, ok := domain.PackageOptionByType(packageType)
	if !ok {
		return Invoice{}, ErrUnknownPackage
	}
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		if isRepoNotFound(err) {
			return Invoice{}, ErrUserNotFound
		}
		return Invoice{}, err
	}

	invoice, err := s.payments.CreateInvoice(ctx, InvoiceRequest{
		UserID:      userID,
		Amount:      option.Price,
		Currency:    option.Currency,
		Description: fmt.Sprintf("Package %s (%d listing credits)", option.Type, option.Credits),
		Metadata: map[string]string{
			"package_type": option.Type,
			"user_id":      userID,
		},
	})
	if err != nil {
		return Invoice{}, err
	}

	s.log(ctx, "ledger.package_invoice_minted", map[string]any{
		"user_id":      userID,
		"package_type": option.Type,
		"invoice_id":   invoice.ID,
	})
	return invoice, nil
}

func (s *ledgerService) DebitForPromotion(ctx context.Context, userID string, tier PromotionTier, metadata map[string]string) error {
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		user, err := s.users.FindByID(ctx, userID)
		if err != nil {
			if isRepoNotFound(err) {
				return ErrUserNotFound
			}
			return err
		}

		if user.Balance < tier.Price {
			return ErrInsufficientBalance
		}
		now := s.clock()
		user.Balance -= tier.Price
		user.UpdatedAt = now
		if err := s.users.Save(ctx, user); err != nil {
			return err
		}

		txn := domain.Transaction{
			ID:        s.newID(idPrefixTransaction),
			UserID:    userID,
			Type:      domain.TransactionTypePayment,
			Direction: domain.TransactionDebit,
			Amount:    tier.Price,
			Currency:  tier.Currency,
			Kind:      domain.TransactionKindBalance,
			Reason:    reasonPromotionPurchase,
			Metadata:  cloneMetadata(metadata),
			CreatedAt: now,
		}
		return s.appendAudit(ctx, txn)
	})
	if err != nil {
		return err
	}

	s.log(ctx, "ledger.promotion_debited", map[string]any{
		"user_id": userID,
		"tier":    tier.Type,
		"amount":  tier.Price,
	})
	return nil
}

func (s *ledgerService) Refund(ctx context.Context, cmd RefundCommand) error {
	if cmd.Amount <= 0 {
		return nil
	}
	currency := cmd.Currency
	if currency == "" {
		currency = defaultCurrency
	}

	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		user, err := s.users.FindByID(ctx, cmd.UserID)
		if err != nil {
			if isRepoNotFound(err) {
				return ErrUserNotFound
			}
			return err
		}

		now := s.clock()
		user.Balance += cmd.Amount
		user.UpdatedAt = now
		if err := s.users.Save(ctx, user); err != nil {
			return err
		}

		txn := domain.Transaction{
			ID:        s.newID(idPrefixTransaction),
			UserID:    cmd.UserID,
			Type:      domain.TransactionTypeRefund,
			Direction: domain.TransactionCredit,
			Amount:    cmd.Amount,
			Currency:  currency,
			Kind:      domain.TransactionKindBalance,
			Reason:    cmd.Reason,
			Metadata:  cloneMetadata(cmd.Metadata),
			CreatedAt: now,
		}
		return s.appendAudit(ctx, txn)
	})
	if err != nil {
		return err
	}

	s.log(ctx, "ledger.refunded", map[string]any{
		"user_id": cmd.UserID,
		"amount":  cmd.Amount,
		"reason":  cmd.Reason,
	})
	return nil
}

func (s *ledgerService) RefundPackageCredit(ctx context.Context, userID, reason string, metadata map[string]string) error {
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		user, err := s.users.FindByID(ctx, userID)
		if err != nil {
			if isRepoNotFound(err) {
				return ErrUserNotFound
			}
			return err
		}

		now := s.clock()
		user.PackageBalance++
		user.UpdatedAt = now
		if err := s.users.Save(ctx, user); err != nil {
			return err
		}

		txn := domain.Transaction{
			ID:        s.newID(idPrefixTransaction),
			UserID:    userID,
			Type:      domain.TransactionTypeRefund,
			Direction: domain.TransactionCredit,
			Amount:    1,
			Currency:  user.Currency,
			Kind:      domain.TransactionKindCredits,
			Reason:    reason,
			Metadata:  cloneMetadata(metadata),
			CreatedAt: now,
		}
		return s.appendAudit(ctx, txn)
	})
	if err != nil {
		return err
	}

	s.log(ctx, "ledger.credit_refunded", map[string]any{
		"user_id": userID,
		"reason":  reason,
	})
	return nil
}

func (s *ledgerService) ListTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	return s.transactions.ListByUser(ctx, userID, limit)
}

func (s *ledgerService) ListPackagePurchases(ctx context.Context, userID string, limit int) ([]PackagePurchase, error) {
	return s.packages.ListByUser(ctx, userID, limit)
}

// appendAudit writes the Transaction row that pairs a balance mutation. A
// failed append aborts the enclosing transaction so the mutation never commits
// without its audit row; the failure is surfaced as ErrAuditInconsistency and
// logged at error level.
func (s *ledgerService) appendAudit(ctx context.Context, txn domain.Transaction) error {
	if err := s.transactions.Append(ctx, txn); err != nil {
		s.log(ctx, "ledger.audit_append_failed", map[string]any{
			"transaction_id": txn.ID,
			"user_id":        txn.UserID,
			"error":          err.Error(),
		})
		return fmt.Errorf("%w: %v", ErrAuditInconsistency, err)
	}
	return nil
}

func cloneMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
