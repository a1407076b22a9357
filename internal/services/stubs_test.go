package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/baraholka/api/internal/domain"
)

// repositoryErrorStub satisfies repositories.RepositoryError for tests.
type repositoryErrorStub struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repositoryErrorStub) Error() string       { return "repository error stub" }
func (e *repositoryErrorStub) IsNotFound() bool    { return e.notFound }
func (e *repositoryErrorStub) IsConflict() bool    { return e.conflict }
func (e *repositoryErrorStub) IsUnavailable() bool { return e.unavailable }

var errStubNotFound = &repositoryErrorStub{notFound: true}

// stubUnitOfWork runs the function inline; the in-memory stubs below have no
// transactional semantics to join.
type stubUnitOfWork struct {
	runs   int
	runErr error
}

func (u *stubUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	u.runs++
	if u.runErr != nil {
		return u.runErr
	}
	return fn(ctx)
}

type stubUserRepo struct {
	users     map[string]domain.User
	saves     int
	insertErr error
	findErr   error
}

func newStubUserRepo(users ...domain.User) *stubUserRepo {
	repo := &stubUserRepo{users: make(map[string]domain.User)}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (r *stubUserRepo) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if r.findErr != nil {
		return domain.User{}, r.findErr
	}
	user, ok := r.users[userID]
	if !ok {
		return domain.User{}, errStubNotFound
	}
	return user, nil
}

func (r *stubUserRepo) Insert(ctx context.Context, user domain.User) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	if _, ok := r.users[user.ID]; ok {
		return &repositoryErrorStub{conflict: true}
	}
	r.users[user.ID] = user
	return nil
}

func (r *stubUserRepo) Save(ctx context.Context, user domain.User) error {
	r.users[user.ID] = user
	r.saves++
	return nil
}

type stubListingRepo struct {
	listings map[string]domain.Listing
	order    []string
	saveErr  error
	deletes  []string
}

func newStubListingRepo(listings ...domain.Listing) *stubListingRepo {
	repo := &stubListingRepo{listings: make(map[string]domain.Listing)}
	for _, l := range listings {
		repo.listings[l.ID] = l
		repo.order = append(repo.order, l.ID)
	}
	return repo
}

func (r *stubListingRepo) Insert(ctx context.Context, listing domain.Listing) error {
	if _, ok := r.listings[listing.ID]; ok {
		return &repositoryErrorStub{conflict: true}
	}
	r.listings[listing.ID] = listing
	r.order = append(r.order, listing.ID)
	return nil
}

func (r *stubListingRepo) Save(ctx context.Context, listing domain.Listing) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	if _, ok := r.listings[listing.ID]; !ok {
		r.order = append(r.order, listing.ID)
	}
	r.listings[listing.ID] = listing
	return nil
}

func (r *stubListingRepo) FindByID(ctx context.Context, listingID string) (domain.Listing, error) {
	listing, ok := r.listings[listingID]
	if !ok {
		return domain.Listing{}, errStubNotFound
	}
	return listing, nil
}

func (r *stubListingRepo) Delete(ctx context.Context, listingID string) error {
	delete(r.listings, listingID)
	r.deletes = append(r.deletes, listingID)
	return nil
}

func (r *stubListingRepo) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Listing, error) {
	var out []domain.Listing
	for _, id := range r.order {
		listing, ok := r.listings[id]
		if !ok || listing.UserID != userID {
			continue
		}
		out = append(out, listing)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *stubListingRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Listing, error) {
	var out []domain.Listing
	for _, id := range r.order {
		listing, ok := r.listings[id]
		if !ok || listing.Status != domain.ListingStatusActive {
			continue
		}
		if listing.ExpiresAt == nil || !listing.ExpiresAt.Before(now) {
			continue
		}
		out = append(out, listing)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type stubPromotionRepo struct {
	rows    map[string]domain.PromotionPurchase
	order   []string
	saveErr error
}

func newStubPromotionRepo(rows ...domain.PromotionPurchase) *stubPromotionRepo {
	repo := &stubPromotionRepo{rows: make(map[string]domain.PromotionPurchase)}
	for _, row := range rows {
		repo.rows[row.ID] = row
		repo.order = append(repo.order, row.ID)
	}
	return repo
}

func (r *stubPromotionRepo) Insert(ctx context.Context, purchase domain.PromotionPurchase) error {
	if _, ok := r.rows[purchase.ID]; ok {
		return &repositoryErrorStub{conflict: true}
	}
	r.rows[purchase.ID] = purchase
	r.order = append(r.order, purchase.ID)
	return nil
}

func (r *stubPromotionRepo) Save(ctx context.Context, purchase domain.PromotionPurchase) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	if _, ok := r.rows[purchase.ID]; !ok {
		r.order = append(r.order, purchase.ID)
	}
	r.rows[purchase.ID] = purchase
	return nil
}

func (r *stubPromotionRepo) FindByID(ctx context.Context, purchaseID string) (domain.PromotionPurchase, error) {
	row, ok := r.rows[purchaseID]
	if !ok {
		return domain.PromotionPurchase{}, errStubNotFound
	}
	return row, nil
}

func (r *stubPromotionRepo) ListByListing(ctx context.Context, listingID string) ([]domain.PromotionPurchase, error) {
	var out []domain.PromotionPurchase
	for _, id := range r.order {
		row, ok := r.rows[id]
		if !ok || row.ListingID != listingID {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (r *stubPromotionRepo) DeleteByListing(ctx context.Context, listingID string) error {
	for _, id := range r.order {
		if row, ok := r.rows[id]; ok && row.ListingID == listingID {
			delete(r.rows, id)
		}
	}
	return nil
}

type stubPackageRepo struct {
	appended []domain.PackagePurchase
}

func (r *stubPackageRepo) Append(ctx context.Context, purchase domain.PackagePurchase) error {
	r.appended = append(r.appended, purchase)
	return nil
}

func (r *stubPackageRepo) ListByUser(ctx context.Context, userID string, limit int) ([]domain.PackagePurchase, error) {
	var out []domain.PackagePurchase
	for _, p := range r.appended {
		if p.UserID != userID {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type stubTransactionRepo struct {
	appended  []domain.Transaction
	appendErr error
}

func (r *stubTransactionRepo) Append(ctx context.Context, txn domain.Transaction) error {
	if r.appendErr != nil {
		return r.appendErr
	}
	r.appended = append(r.appended, txn)
	return nil
}

func (r *stubTransactionRepo) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for _, txn := range r.appended {
		if txn.UserID != userID {
			continue
		}
		out = append(out, txn)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type stubFavoriteRepo struct {
	entries map[string]time.Time
}

func newStubFavoriteRepo() *stubFavoriteRepo {
	return &stubFavoriteRepo{entries: make(map[string]time.Time)}
}

func favoriteKey(userID, listingID string) string {
	return userID + "|" + listingID
}

func (r *stubFavoriteRepo) Add(ctx context.Context, userID, listingID string, at time.Time) error {
	r.entries[favoriteKey(userID, listingID)] = at
	return nil
}

func (r *stubFavoriteRepo) Remove(ctx context.Context, userID, listingID string) error {
	delete(r.entries, favoriteKey(userID, listingID))
	return nil
}

func (r *stubFavoriteRepo) ListByUser(ctx context.Context, userID string, limit int) ([]string, error) {
	var out []string
	prefix := userID + "|"
	for key := range r.entries {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, key[len(prefix):])
		}
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *stubFavoriteRepo) DeleteByListing(ctx context.Context, listingID string) error {
	for key := range r.entries {
		if n := len(key) - len(listingID) - 1; n >= 0 && key[n:] == "|"+listingID {
			delete(r.entries, key)
		}
	}
	return nil
}

type stubViewCounterRepo struct {
	counts  map[string]int64
	deletes []string
}

func newStubViewCounterRepo() *stubViewCounterRepo {
	return &stubViewCounterRepo{counts: make(map[string]int64)}
}

func (r *stubViewCounterRepo) Increment(ctx context.Context, listingID string) (int64, error) {
	r.counts[listingID]++
	return r.counts[listingID], nil
}

func (r *stubViewCounterRepo) Get(ctx context.Context, listingID string) (int64, error) {
	return r.counts[listingID], nil
}

func (r *stubViewCounterRepo) Delete(ctx context.Context, listingID string) error {
	delete(r.counts, listingID)
	r.deletes = append(r.deletes, listingID)
	return nil
}

type stubDecisionRepo struct {
	decisions map[string]domain.ModerationDecision
	saves     int
}

func newStubDecisionRepo() *stubDecisionRepo {
	return &stubDecisionRepo{decisions: make(map[string]domain.ModerationDecision)}
}

func (r *stubDecisionRepo) FindByListing(ctx context.Context, listingID string) (domain.ModerationDecision, error) {
	decision, ok := r.decisions[listingID]
	if !ok {
		return domain.ModerationDecision{}, errStubNotFound
	}
	return decision, nil
}

func (r *stubDecisionRepo) Save(ctx context.Context, decision domain.ModerationDecision) error {
	steps := make(map[string]bool, len(decision.Steps))
	for k, v := range decision.Steps {
		steps[k] = v
	}
	decision.Steps = steps
	r.decisions[decision.ListingID] = decision
	r.saves++
	return nil
}

type stubNotificationGateway struct {
	sent    []Notification
	sendErr error
}

func (g *stubNotificationGateway) Send(ctx context.Context, notification Notification) error {
	if g.sendErr != nil {
		return g.sendErr
	}
	g.sent = append(g.sent, notification)
	return nil
}

type stubModerationQueue struct {
	submissions []ModerationSubmission
	submitErr   error
}

func (q *stubModerationQueue) Submit(ctx context.Context, submission ModerationSubmission) error {
	if q.submitErr != nil {
		return q.submitErr
	}
	q.submissions = append(q.submissions, submission)
	return nil
}

type stubPaymentGateway struct {
	requests  []InvoiceRequest
	invoice   Invoice
	createErr error
}

func (g *stubPaymentGateway) CreateInvoice(ctx context.Context, req InvoiceRequest) (Invoice, error) {
	if g.createErr != nil {
		return Invoice{}, g.createErr
	}
	g.requests = append(g.requests, req)
	return g.invoice, nil
}

type stubJobDispatcher struct {
	requests    []AssetOptimizeRequest
	dispatchErr error
}

func (d *stubJobDispatcher) DispatchAssetOptimize(ctx context.Context, req AssetOptimizeRequest) error {
	if d.dispatchErr != nil {
		return d.dispatchErr
	}
	d.requests = append(d.requests, req)
	return nil
}

type stubBlobStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	deleted  []string
	writeErr func(path string) error
}

func newStubBlobStore() *stubBlobStore {
	return &stubBlobStore{objects: make(map[string][]byte)}
}

func (b *stubBlobStore) Write(ctx context.Context, path string, data []byte, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writeErr != nil {
		if err := b.writeErr(path); err != nil {
			return err
		}
	}
	b.objects[path] = data
	return nil
}

func (b *stubBlobStore) Delete(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, path)
	b.deleted = append(b.deleted, path)
	return nil
}

// sequentialIDs returns an IDGenerator with deterministic output. Guarded by a
// mutex because the asset pipeline generates ids from worker goroutines.
func sequentialIDs() IDGenerator {
	var mu sync.Mutex
	counters := make(map[string]int)
	return func(prefix string) string {
		mu.Lock()
		defer mu.Unlock()
		counters[prefix]++
		return fmt.Sprintf("%s_%03d", prefix, counters[prefix])
	}
}

func fixedClock(at time.Time) Clock {
	return func() time.Time { return at }
}
