package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/baraholka/api/internal/domain"
)

func newLedgerForTest(t *testing.T, users *stubUserRepo, txns *stubTransactionRepo, packs *stubPackageRepo, now time.Time) LedgerService {
	t.Helper()
	service, err := NewLedgerService(LedgerServiceDeps{
		Users:        users,
		Transactions: txns,
		Packages:     packs,
		UnitOfWork:   &stubUnitOfWork{},
		PaidListings: true,
		Clock:        fixedClock(now),
		IDs:          sequentialIDs(),
	})
	if err != nil {
		t.Fatalf("unexpected error constructing ledger service: %v", err)
	}
	return service
}

func TestLedgerServiceEnsureAccountCreatesOnFirstContact(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	users := newStubUserRepo()
	service := newLedgerForTest(t, users, &stubTransactionRepo{}, &stubPackageRepo{}, now)

	user, err := service.EnsureAccount(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID != "usr_42" {
		t.Fatalf("expected user id usr_42, got %q", user.ID)
	}
	if user.Currency != "EUR" {
		t.Fatalf("expected default currency EUR, got %q", user.Currency)
	}
	if user.Balance != 0 || user.PackageBalance != 0 {
		t.Fatalf("expected zero balances, got %d/%d", user.Balance, user.PackageBalance)
	}

	again, err := service.EnsureAccount(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error on second call: %v", err)
	}
	if again.ID != user.ID {
		t.Fatalf("expected same account, got %q", again.ID)
	}
	if len(users.users) != 1 {
		t.Fatalf("expected one stored account, got %d", len(users.users))
	}
}

func TestLedgerServiceDebitConsumesFreeQuotaFirst(t *testing.T) {
	now := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)
	users := newStubUserRepo(domain.User{ID: "usr_1", TelegramID: 1, Currency: "EUR", PackageBalance: 3})
	txns := &stubTransactionRepo{}
	service := newLedgerForTest(t, users, txns, &stubPackageRepo{}, now)

	debit, err := service.DebitForListing(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !debit.FreeQuota || debit.CreditUsed {
		t.Fatalf("expected free quota debit, got %+v", debit)
	}
	if debit.TransactionID != "" {
		t.Fatalf("free quota must not write a ledger row, got %q", debit.TransactionID)
	}
	if len(txns.appended) != 0 {
		t.Fatalf("expected no transactions, got %d", len(txns.appended))
	}

	user := users.users["usr_1"]
	if !user.HasUsedFreeListing {
		t.Fatalf("expected free quota marked used")
	}
	if user.PackageBalance != 3 {
		t.Fatalf("expected credits untouched, got %d", user.PackageBalance)
	}
}

func TestLedgerServiceDebitUsesOnePackageCredit(t *testing.T) {
	now := time.Date(2025, 3, 2, 9, 30, 0, 0, time.UTC)
	users := newStubUserRepo(domain.User{ID: "usr_1", TelegramID: 1, Currency: "EUR", PackageBalance: 2, HasUsedFreeListing: true})
	txns := &stubTransactionRepo{}
	service := newLedgerForTest(t, users, txns, &stubPackageRepo{}, now)

	debit, err := service.DebitForListing(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !debit.CreditUsed || debit.FreeQuota {
		t.Fatalf("expected credit debit, got %+v", debit)
	}
	if users.users["usr_1"].PackageBalance != 1 {
		t.Fatalf("expected package balance 1, got %d", users.users["usr_1"].PackageBalance)
	}

	if len(txns.appended) != 1 {
		t.Fatalf("expected exactly one audit row, got %d", len(txns.appended))
	}
	txn := txns.appended[0]
	if txn.Type != domain.TransactionTypeUsage || txn.Direction != domain.TransactionDebit {
		t.Fatalf("unexpected audit row classification %s/%s", txn.Type, txn.Direction)
	}
	if txn.Kind != domain.TransactionKindCredits || txn.Amount != 1 {
		t.Fatalf("expected one credit debited, got kind=%s amount=%d", txn.Kind, txn.Amount)
	}
	if txn.Reason != "listing_submission" {
		t.Fatalf("unexpected reason %q", txn.Reason)
	}
	if debit.TransactionID != txn.ID {
		t.Fatalf("expected debit to reference the audit row")
	}
}

func TestLedgerServiceDebitInsufficientCredits(t *testing.T) {
	now := time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)
	users := newStubUserRepo(domain.User{ID: "usr_1", TelegramID: 1, Currency: "EUR", HasUsedFreeListing: true})
	txns := &stubTransactionRepo{}
	service := newLedgerForTest(t, users, txns, &stubPackageRepo{}, now)

	_, err := service.DebitForListing(context.Background(), "usr_1")
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if len(txns.appended) != 0 {
		t.Fatalf("failed debit must not write transactions, got %d", len(txns.appended))
	}
	if users.users["usr_1"].PackageBalance != 0 {
		t.Fatalf("balance must stay untouched")
	}
}

func TestLedgerServiceDebitSkippedWhenPaidListingsDisabled(t *testing.T) {
	service, err := NewLedgerService(LedgerServiceDeps{
		Users:        newStubUserRepo(),
		Transactions: &stubTransactionRepo{},
		Packages:     &stubPackageRepo{},
		UnitOfWork:   &stubUnitOfWork{},
		PaidListings: false,
	})
	if err != nil {
		t.Fatalf("unexpected error constructing ledger service: %v", err)
	}

	debit, err := service.DebitForListing(context.Background(), "usr_missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if debit.FreeQuota || debit.CreditUsed || debit.TransactionID != "" {
		t.Fatalf("expected zero-cost debit, got %+v", debit)
	}
}

func TestLedgerServiceCreditPackageFromBalance(t *testing.T) {
	now := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	users := newStubUserRepo(domain.User{ID: "usr_1", TelegramID: 1, Currency: "EUR", Balance: 1000})
	txns := &stubTransactionRepo{}
	packs := &stubPackageRepo{}
	service := newLedgerForTest(t, users, txns, packs, now)

	purchase, err := service.CreditPackage(context.Background(), CreditPackageCommand{
		UserID:        "usr_1",
		PackageType:   "pack_5",
		PaymentMethod: PaymentMethodBalance,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	user := users.users["usr_1"]
	if user.Balance != 200 {
		t.Fatalf("expected balance 200 after purchase, got %d", user.Balance)
	}
	if user.PackageBalance != 5 {
		t.Fatalf("expected 5 credits, got %d", user.PackageBalance)
	}

	if purchase.Credits != 5 || purchase.Price != 800 {
		t.Fatalf("unexpected purchase %+v", purchase)
	}
	if purchase.ExpiresAt == nil || !purchase.ExpiresAt.After(now) {
		t.Fatalf("expected credit validity window, got %v", purchase.ExpiresAt)
	}
	if len(packs.appended) != 1 {
		t.Fatalf("expected one purchase record, got %d", len(packs.appended))
	}

	if len(txns.appended) != 1 {
		t.Fatalf("expected exactly one payment row, got %d", len(txns.appended))
	}
	txn := txns.appended[0]
	if txn.Type != domain.TransactionTypePayment || txn.Kind != domain.TransactionKindBalance || txn.Amount != 800 {
		t.Fatalf("unexpected payment row %+v", txn)
	}
	if txn.Metadata["package_type"] != "pack_5" || txn.Metadata["payment_method"] != PaymentMethodBalance {
		t.Fatalf("unexpected metadata %v", txn.Metadata)
	}
}

func TestLedgerServiceCreditPackageInsufficientBalance(t *testing.T) {
	now := time.Date(2025, 3, 3, 12, 30, 0, 0, time.UTC)
	users := newStubUserRepo(domain.User{ID: "usr_1", TelegramID: 1, Currency: "EUR", Balance: 100})
	txns := &stubTransactionRepo{}
	service := newLedgerForTest(t, users, txns, &stubPackageRepo{}, now)

	_, err := service.CreditPackage(context.Background(), CreditPackageCommand{
		UserID:      "usr_1",
		PackageType: "pack_1",
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if users.users["usr_1"].PackageBalance != 0 {
		t.Fatalf("failed purchase must not grant credits")
	}
	if len(txns.appended) != 0 {
		t.Fatalf("failed purchase must not write transactions")
	}
}

func TestLedgerServiceCreditPackageInvoiceSkipsBalance(t *testing.T) {
	now := time.Date(2025, 3, 3, 13, 0, 0, 0, time.UTC)
	users := newStubUserRepo(domain.User{ID: "usr_1", TelegramID: 1, Currency: "EUR"})
	txns := &stubTransactionRepo{}
	service := newLedgerForTest(t, users, txns, &stubPackageRepo{}, now)

	purchase, err := service.CreditPackage(context.Background(), CreditPackageCommand{
		UserID:        "usr_1",
		PackageType:   "pack_1",
		PaymentMethod: PaymentMethodInvoice,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if users.users["usr_1"].Balance != 0 {
		t.Fatalf("invoice purchase must not touch monetary balance")
	}
	if users.users["usr_1"].PackageBalance != 1 {
		t.Fatalf("expected one credit, got %d", users.users["usr_1"].PackageBalance)
	}
	if purchase.PaymentMethod != PaymentMethodInvoice {
		t.Fatalf("expected invoice payment method, got %q", purchase.PaymentMethod)
	}
	if len(txns.appended) != 1 {
		t.Fatalf("expected one payment row, got %d", len(txns.appended))
	}
	// The money was captured at the provider; the audit row must not claim a
	// balance mutation that never happened.
	txn := txns.appended[0]
	if txn.Kind != domain.TransactionKindExternal {
		t.Fatalf("expected external payment row, got kind %q", txn.Kind)
	}
	if txn.Metadata["payment_method"] != PaymentMethodInvoice {
		t.Fatalf("unexpected metadata %v", txn.Metadata)
	}
}

func TestLedgerServiceRequestPackageInvoice(t *testing.T) {
	now := time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC)
	users := newStubUserRepo(domain.User{ID: "usr_1", TelegramID: 1, Currency: "EUR"})
	txns := &stubTransactionRepo{}
	gateway := &stubPaymentGateway{invoice: Invoice{ID: "inv_1", CheckoutURL: "https://pay.example/inv_1"}}
	service, err := NewLedgerService(LedgerServiceDeps{
		Users:        users,
		Transactions: txns,
		Packages:     &stubPackageRepo{},
		UnitOfWork:   &stubUnitOfWork{},
		Payments:     gateway,
		PaidListings: true,
		Clock:        fixedClock(now),
		IDs:          sequentialIDs(),
	})
	if err != nil {
		t.Fatalf("unexpected error constructing ledger service: %v", err)
	}

	invoice, err := service.RequestPackageInvoice(context.Background(), "usr_1", "pack_5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if invoice.CheckoutURL != "https://pay.example/inv_1" {
		t.Fatalf("expected checkout url, got %q", invoice.CheckoutURL)
	}

	if len(gateway.requests) != 1 {
		t.Fatalf("expected one invoice request, got %d", len(gateway.requests))
	}
	req := gateway.requests[0]
	if req.Amount != 800 || req.Currency != "EUR" {
		t.Fatalf("unexpected invoice request %+v", req)
	}
	if req.Metadata["package_type"] != "pack_5" || req.Metadata["user_id"] != "usr_1" {
		t.Fatalf("invoice metadata must reference the package, got %v", req.Metadata)
	}

	// Credits land only on the provider callback.
	user := users.users["usr_1"]
	if user.Balance != 0 || user.PackageBalance != 0 {
		t.Fatalf("minting must not move money, got %d/%d", user.Balance, user.PackageBalance)
	}
	if len(txns.appended) != 0 {
		t.Fatalf("minting must not write transactions, got %d", len(txns.appended))
	}

	if _, err := service.RequestPackageInvoice(context.Background(), "usr_1", "pack_999"); !errors.Is(err, ErrUnknownPackage) {
		t.Fatalf("expected ErrUnknownPackage, got %v", err)
	}
	if _, err := service.RequestPackageInvoice(context.Background(), "usr_missing", "pack_1"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestLedgerServiceRequestPackageInvoiceWithoutGateway(t *testing.T) {
	service := newLedgerForTest(t, newStubUserRepo(), &stubTransactionRepo{}, &stubPackageRepo{}, time.Now())
	if _, err := service.RequestPackageInvoice(context.Background(), "usr_1", "pack_1"); !errors.Is(err, ErrPaymentGatewayMissing) {
		t.Fatalf("expected ErrPaymentGatewayMissing, got %v", err)
	}
}

func TestLedgerServiceCreditPackageUnknownType(t *testing.T) {
	service := newLedgerForTest(t, newStubUserRepo(), &stubTransactionRepo{}, &stubPackageRepo{}, time.Now())
	_, err := service.CreditPackage(context.Background(), CreditPackageCommand{UserID: "usr_1", PackageType: "pack_999"})
	if !errors.Is(err, ErrUnknownPackage) {
		t.Fatalf("expected ErrUnknownPackage, got %v", err)
	}
}

func TestLedgerServiceRefundPackageCreditRestoresExactlyOne(t *testing.T) {
	now := time.Date(2025, 3, 4, 8, 0, 0, 0, time.UTC)
	users := newStubUserRepo(domain.User{ID: "usr_1", TelegramID: 1, Currency: "EUR", PackageBalance: 0, HasUsedFreeListing: true})
	txns := &stubTransactionRepo{}
	service := newLedgerForTest(t, users, txns, &stubPackageRepo{}, now)

	if err := service.RefundPackageCredit(context.Background(), "usr_1", "listing_rejected", map[string]string{"listing_id": "lst_1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if users.users["usr_1"].PackageBalance != 1 {
		t.Fatalf("expected exactly one credit restored, got %d", users.users["usr_1"].PackageBalance)
	}
	if len(txns.appended) != 1 {
		t.Fatalf("expected one refund row, got %d", len(txns.appended))
	}
	txn := txns.appended[0]
	if txn.Type != domain.TransactionTypeRefund || txn.Direction != domain.TransactionCredit {
		t.Fatalf("unexpected refund classification %s/%s", txn.Type, txn.Direction)
	}
	if txn.Kind != domain.TransactionKindCredits || txn.Amount != 1 {
		t.Fatalf("expected one credit refunded, got kind=%s amount=%d", txn.Kind, txn.Amount)
	}
	if txn.Metadata["listing_id"] != "lst_1" {
		t.Fatalf("expected listing metadata, got %v", txn.Metadata)
	}
}

func TestLedgerServiceRefundCreditsBalanceWithAudit(t *testing.T) {
	now := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	users := newStubUserRepo(domain.User{ID: "usr_1", TelegramID: 1, Currency: "EUR", Balance: 50})
	txns := &stubTransactionRepo{}
	service := newLedgerForTest(t, users, txns, &stubPackageRepo{}, now)

	err := service.Refund(context.Background(), RefundCommand{
		UserID:   "usr_1",
		Amount:   300,
		Currency: "EUR",
		Reason:   "promotion_refund",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if users.users["usr_1"].Balance != 350 {
		t.Fatalf("expected balance 350, got %d", users.users["usr_1"].Balance)
	}
	if len(txns.appended) != 1 {
		t.Fatalf("expected one refund row, got %d", len(txns.appended))
	}
	if txns.appended[0].Amount != 300 || txns.appended[0].Kind != domain.TransactionKindBalance {
		t.Fatalf("unexpected refund row %+v", txns.appended[0])
	}
}

func TestLedgerServiceRefundZeroAmountIsNoop(t *testing.T) {
	users := newStubUserRepo(domain.User{ID: "usr_1", TelegramID: 1, Currency: "EUR"})
	txns := &stubTransactionRepo{}
	service := newLedgerForTest(t, users, txns, &stubPackageRepo{}, time.Now())

	if err := service.Refund(context.Background(), RefundCommand{UserID: "usr_1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txns.appended) != 0 {
		t.Fatalf("zero refund must not write transactions")
	}
}

func TestLedgerServiceAuditFailureSurfacesInconsistency(t *testing.T) {
	now := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	users := newStubUserRepo(domain.User{ID: "usr_1", TelegramID: 1, Currency: "EUR", PackageBalance: 1, HasUsedFreeListing: true})
	txns := &stubTransactionRepo{appendErr: errors.New("append rejected")}
	service := newLedgerForTest(t, users, txns, &stubPackageRepo{}, now)

	_, err := service.DebitForListing(context.Background(), "usr_1")
	if !errors.Is(err, ErrAuditInconsistency) {
		t.Fatalf("expected ErrAuditInconsistency, got %v", err)
	}
}

func TestLedgerServiceUnknownUser(t *testing.T) {
	service := newLedgerForTest(t, newStubUserRepo(), &stubTransactionRepo{}, &stubPackageRepo{}, time.Now())
	_, err := service.GetAccount(context.Background(), "usr_missing")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
