package services

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/clinicauth/internal/auth"
	"github.com/BradenHooton/clinicauth/internal/database"
	"github.com/BradenHooton/clinicauth/internal/models"
	pkgauth "github.com/BradenHooton/clinicauth/pkg/auth"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// MemoryStore is an in-memory implementation of the account, password history,
// backup code and settings repositories. Mutate serializes on the account map
// the way SELECT ... FOR UPDATE serializes on a row, and writes made through
// the memTx it hands out are undone when the mutation does not commit.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*models.Account

	historyMu sync.Mutex
	history   map[string][]models.PasswordHistoryEntry

	codesMu sync.Mutex
	codes   map[string][]*models.BackupCode

	settings map[string]time.Duration

	// GetByHandleErr, when set, is returned by GetByHandle
	GetByHandleErr error

	failCommit bool
}

var errCommitFailed = errors.New("commit failed")

// memTx stands in for the open transaction of a MemoryStore mutation. It runs
// no SQL; the store's repository methods register undo steps on it instead.
type memTx struct {
	undo []func()
}

var errNoSQL = errors.New("memory store does not run SQL")

func (*memTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errNoSQL
}

func (*memTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errNoSQL
}

func (*memTx) QueryRow(context.Context, string, ...any) pgx.Row {
	return errRow{}
}

func (*memTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, errNoSQL
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
}

type errRow struct{}

func (errRow) Scan(...any) error { return errNoSQL }

// onRollback registers undo when q is a MemoryStore transaction
func onRollback(q database.Querier, undo func()) {
	if tx, ok := q.(*memTx); ok {
		tx.undo = append(tx.undo, undo)
	}
}

// FailNextCommit makes the next mutation fail after fn succeeded, as a lost
// connection at COMMIT would
func (m *MemoryStore) FailNextCommit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCommit = true
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*models.Account),
		history:  make(map[string][]models.PasswordHistoryEntry),
		codes:    make(map[string][]*models.BackupCode),
		settings: make(map[string]time.Duration),
	}
}

func copyAccount(acc *models.Account) *models.Account {
	c := *acc
	return &c
}

func (m *MemoryStore) Create(ctx context.Context, acc *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc.Handle = models.NormalizeHandle(acc.Handle)
	acc.Email = models.NormalizeEmail(acc.Email)
	for _, existing := range m.accounts {
		if existing.Handle == acc.Handle || existing.Email == acc.Email {
			return models.ErrConflict
		}
	}
	if acc.ID == "" {
		acc.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	acc.CreatedAt = now
	acc.UpdatedAt = now
	m.accounts[acc.ID] = copyAccount(acc)

	return m.Append(ctx, nil, acc.ID, acc.PasswordHash, 0)
}

func (m *MemoryStore) find(match func(*models.Account) bool) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acc := range m.accounts {
		if match(acc) {
			return copyAccount(acc), nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MemoryStore) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return m.find(func(a *models.Account) bool { return a.ID == id })
}

func (m *MemoryStore) GetByHandle(ctx context.Context, handle string) (*models.Account, error) {
	if m.GetByHandleErr != nil {
		return nil, m.GetByHandleErr
	}
	handle = models.NormalizeHandle(handle)
	return m.find(func(a *models.Account) bool { return a.Handle == handle })
}

func (m *MemoryStore) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	email = models.NormalizeEmail(email)
	return m.find(func(a *models.Account) bool { return a.Email == email })
}

func (m *MemoryStore) GetByVerificationToken(ctx context.Context, tokenHash string) (*models.Account, error) {
	return m.find(func(a *models.Account) bool {
		return a.VerificationTokenHash != nil && *a.VerificationTokenHash == tokenHash
	})
}

func (m *MemoryStore) GetByResetToken(ctx context.Context, tokenHash string) (*models.Account, error) {
	return m.find(func(a *models.Account) bool {
		return a.ResetTokenHash != nil && *a.ResetTokenHash == tokenHash
	})
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status models.AccountStatus, limit int) ([]*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Account, 0)
	for _, acc := range m.accounts {
		if acc.Status == status {
			out = append(out, copyAccount(acc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Mutate(ctx context.Context, id string, fn func(*models.Account) error) (*models.Account, error) {
	return m.MutateWith(ctx, id, func(_ database.Querier, acc *models.Account) error {
		return fn(acc)
	})
}

func (m *MemoryStore) MutateWith(ctx context.Context, id string, fn func(database.Querier, *models.Account) error) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.accounts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	working := copyAccount(stored)
	tx := &memTx{}
	if err := fn(tx, working); err != nil {
		tx.rollback()
		return nil, err
	}
	if m.failCommit {
		m.failCommit = false
		tx.rollback()
		return nil, errCommitFailed
	}
	working.UpdatedAt = time.Now().UTC()
	m.accounts[id] = working
	return copyAccount(working), nil
}

// Account returns the stored state of id, failing the test if it is missing
func (m *MemoryStore) Account(t *testing.T, id string) *models.Account {
	t.Helper()
	acc, err := m.GetByID(context.Background(), id)
	require.NoError(t, err)
	return acc
}

func (m *MemoryStore) ListRecent(ctx context.Context, accountID string, limit int) ([]models.PasswordHistoryEntry, error) {
	m.historyMu.Lock()
	defer m.historyMu.Unlock()
	entries := m.history[accountID]
	out := make([]models.PasswordHistoryEntry, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (m *MemoryStore) Append(ctx context.Context, q database.Querier, accountID, passwordHash string, keep int) error {
	m.historyMu.Lock()
	defer m.historyMu.Unlock()
	prev := append([]models.PasswordHistoryEntry(nil), m.history[accountID]...)
	onRollback(q, func() {
		m.historyMu.Lock()
		defer m.historyMu.Unlock()
		m.history[accountID] = prev
	})
	entries := append(prev[:len(prev):len(prev)], models.PasswordHistoryEntry{
		ID:           uuid.New().String(),
		AccountID:    accountID,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	})
	if keep > 0 && len(entries) > keep {
		entries = entries[len(entries)-keep:]
	}
	m.history[accountID] = entries
	return nil
}

// HistoryLen returns the number of stored history entries for accountID
func (m *MemoryStore) HistoryLen(accountID string) int {
	m.historyMu.Lock()
	defer m.historyMu.Unlock()
	return len(m.history[accountID])
}

// restoreCodes puts the account's current code slice back on rollback
func (m *MemoryStore) restoreCodes(q database.Querier, accountID string) {
	prev := m.codes[accountID]
	onRollback(q, func() {
		m.codesMu.Lock()
		defer m.codesMu.Unlock()
		m.codes[accountID] = prev
	})
}

func (m *MemoryStore) ReplaceAll(ctx context.Context, q database.Querier, accountID string, codeHashes []string) error {
	m.codesMu.Lock()
	defer m.codesMu.Unlock()
	m.restoreCodes(q, accountID)
	kept := make([]*models.BackupCode, 0)
	for _, c := range m.codes[accountID] {
		if c.Used {
			kept = append(kept, c)
		}
	}
	for _, h := range codeHashes {
		kept = append(kept, &models.BackupCode{ID: uuid.New().String(), AccountID: accountID, CodeHash: h, CreatedAt: time.Now()})
	}
	m.codes[accountID] = kept
	return nil
}

func (m *MemoryStore) Consume(ctx context.Context, q database.Querier, accountID, codeHash string, at time.Time) (bool, error) {
	m.codesMu.Lock()
	defer m.codesMu.Unlock()
	for _, c := range m.codes[accountID] {
		if !c.Used && c.CodeHash == codeHash {
			c.Used = true
			usedAt := at
			c.UsedAt = &usedAt
			onRollback(q, func() {
				m.codesMu.Lock()
				defer m.codesMu.Unlock()
				c.Used = false
				c.UsedAt = nil
			})
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) InvalidateAll(ctx context.Context, q database.Querier, accountID string) error {
	m.codesMu.Lock()
	defer m.codesMu.Unlock()
	m.restoreCodes(q, accountID)
	kept := make([]*models.BackupCode, 0)
	for _, c := range m.codes[accountID] {
		if c.Used {
			kept = append(kept, c)
		}
	}
	m.codes[accountID] = kept
	return nil
}

func (m *MemoryStore) CountUnused(ctx context.Context, accountID string) (int, error) {
	m.codesMu.Lock()
	defer m.codesMu.Unlock()
	n := 0
	for _, c := range m.codes[accountID] {
		if !c.Used {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) GetDuration(ctx context.Context, key string) (time.Duration, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.settings[key]
	return d, ok, nil
}

// SetDuration stores a duration setting
func (m *MemoryStore) SetDuration(key string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = d
}

// RecordingNotifier keeps every message it is handed
type RecordingNotifier struct {
	mu       sync.Mutex
	messages []models.EmailMessage
	// Reject makes Notify report a full queue
	Reject bool
}

func (n *RecordingNotifier) Notify(msg models.EmailMessage) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Reject {
		return false
	}
	n.messages = append(n.messages, msg)
	return true
}

// Messages returns a copy of every recorded message
func (n *RecordingNotifier) Messages() []models.EmailMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.EmailMessage(nil), n.messages...)
}

// Last returns the newest message sent to address, failing the test if there is none
func (n *RecordingNotifier) Last(t *testing.T, address string) models.EmailMessage {
	t.Helper()
	msgs := n.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].To == models.NormalizeEmail(address) {
			return msgs[i]
		}
	}
	t.Fatalf("no message sent to %s", address)
	return models.EmailMessage{}
}

var (
	tokenPattern        = regexp.MustCompile(`token=([A-Za-z0-9_-]+)`)
	tempPasswordPattern = regexp.MustCompile(`Temporary password: (\S+)`)
	emailCodePattern    = regexp.MustCompile(`sign-in code is (\d{6})`)
)

// ExtractMatch returns the first capture group of pattern in body
func ExtractMatch(t *testing.T, pattern *regexp.Regexp, body string) string {
	t.Helper()
	m := pattern.FindStringSubmatch(body)
	require.Len(t, m, 2, "pattern %s not found in %q", pattern, body)
	return m[1]
}

// TestClock is a settable time source
type TestClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewTestClock starts at a fixed instant aligned to a TOTP step
func NewTestClock() *TestClock {
	return &TestClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *TestClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *TestClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testEnv wires AuthService and AdminService over in-memory collaborators
type testEnv struct {
	store    *MemoryStore
	notifier *RecordingNotifier
	clock    *TestClock
	hasher   *pkgauth.Hasher
	tokens   *auth.TokenManager
	totp     *auth.TOTPManager
	service  *AuthService
	admin    *AdminService
}

const testPassword = "Clinic#2026pass"

func newTestEnv(t *testing.T, configure ...func(*AuthDeps)) *testEnv {
	t.Helper()

	store := NewMemoryStore()
	notifier := &RecordingNotifier{}
	clock := NewTestClock()
	hasher := pkgauth.NewHasher(bcrypt.MinCost)

	tokens := auth.NewTokenManager("test-secret-that-is-long-enough-for-hs256", 24*time.Hour, 5*time.Minute)
	tokens.SetAccountRepo(store)
	tokens.SetClock(clock.Now)

	totpManager, err := auth.NewTOTPManager(bytes.Repeat([]byte{7}, 32), "Clinica")
	require.NoError(t, err)

	deps := AuthDeps{
		Accounts:    store,
		History:     store,
		BackupCodes: store,
		Settings:    store,
		Hasher:      hasher,
		Tokens:      tokens,
		TOTP:        totpManager,
		Notifier:    notifier,
		Messages:    NewMessageBuilder("https://clinic.test"),
	}
	for _, fn := range configure {
		fn(&deps)
	}

	service := NewAuthService(deps)
	service.SetClock(clock.Now)

	admin := NewAdminService(store, hasher, notifier, deps.Messages, nil, nil)

	return &testEnv{
		store:    store,
		notifier: notifier,
		clock:    clock,
		hasher:   hasher,
		tokens:   tokens,
		totp:     totpManager,
		service:  service,
		admin:    admin,
	}
}

// registerActive walks an account through register, verify and approve
func (e *testEnv) registerActive(t *testing.T, handle, email string) *models.Account {
	t.Helper()
	ctx := context.Background()

	acc, err := e.service.Register(ctx, RegisterInput{Handle: handle, Name: "Test " + handle, Email: email, Password: testPassword})
	require.NoError(t, err)

	token := ExtractMatch(t, tokenPattern, e.notifier.Last(t, email).Body)
	_, err = e.service.VerifyEmail(ctx, token)
	require.NoError(t, err)

	approved, err := e.admin.Approve(ctx, "", acc.ID)
	require.NoError(t, err)
	return approved
}

// enableTwoFactor enrolls and confirms TOTP, returning the secret and backup codes
func (e *testEnv) enableTwoFactor(t *testing.T, accountID string) (string, []string) {
	t.Helper()
	ctx := context.Background()

	enrollment, err := e.service.EnableTwoFactor(ctx, accountID)
	require.NoError(t, err)

	code, err := e.totp.GenerateCode(enrollment.Provisioning.Secret, e.clock.Now())
	require.NoError(t, err)
	require.NoError(t, e.service.ConfirmTwoFactor(ctx, accountID, code))

	return enrollment.Provisioning.Secret, enrollment.BackupCodes
}
