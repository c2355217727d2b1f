// Пакет memory — реализация repository.Store в памяти.
// Используется в тестах сервисов и обработчиков вместо PostgreSQL.
// Транзакция держит глобальную блокировку и откатывает снимок при ошибке.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dogeystamp/sachet-server/internal/domain/model"
	"github.com/dogeystamp/sachet-server/internal/repository"
)

type revokedToken struct {
	expiresAt time.Time
	revokedAt time.Time
}

type state struct {
	users    map[string]model.User
	shares   map[string]model.Share
	sessions map[string]model.UploadSession
	chunks   map[string]map[int]model.Chunk
	settings *model.ServerSettings
	tokens   map[string]revokedToken
	nextID   int64
}

func newState() *state {
	return &state{
		users:    make(map[string]model.User),
		shares:   make(map[string]model.Share),
		sessions: make(map[string]model.UploadSession),
		chunks:   make(map[string]map[int]model.Chunk),
		tokens:   make(map[string]revokedToken),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.shares {
		c.shares[k] = v
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	for k, m := range s.chunks {
		cm := make(map[int]model.Chunk, len(m))
		for i, ch := range m {
			cm[i] = ch
		}
		c.chunks[k] = cm
	}
	if s.settings != nil {
		st := *s.settings
		c.settings = &st
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	c.nextID = s.nextID
	return c
}

// Store — хранилище в памяти.
type Store struct {
	mu   *sync.Mutex
	data **state
	inTx bool

	// failNext — ошибка, которую вернёт следующая операция.
	failMu   *sync.Mutex
	failNext *error
}

// New создаёт пустое хранилище.
func New() *Store {
	st := newState()
	var fail error
	return &Store{mu: &sync.Mutex{}, data: &st, failMu: &sync.Mutex{}, failNext: &fail}
}

// FailNext заставляет следующую операцию вернуть err.
func (s *Store) FailNext(err error) {
	s.failMu.Lock()
	*s.failNext = err
	s.failMu.Unlock()
}

// do выполняет fn под блокировкой (вне транзакции) над текущим состоянием.
func (s *Store) do(fn func(st *state) error) error {
	s.failMu.Lock()
	if err := *s.failNext; err != nil {
		*s.failNext = nil
		s.failMu.Unlock()
		return err
	}
	s.failMu.Unlock()

	if !s.inTx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(*s.data)
}

func (s *Store) Users() repository.UserRepository { return userRepo{s} }
func (s *Store) Shares() repository.ShareRepository { return shareRepo{s} }
func (s *Store) Uploads() repository.UploadRepository { return uploadRepo{s} }
func (s *Store) Settings() repository.SettingsRepository { return settingsRepo{s} }
func (s *Store) Tokens() repository.TokenRepository { return tokenRepo{s} }

// InTx сериализует транзакции; при ошибке fn состояние восстанавливается.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := (*s.data).clone()
	tx := &Store{mu: s.mu, data: s.data, inTx: true, failMu: s.failMu, failNext: s.failNext}
	if err := fn(tx); err != nil {
		*s.data = snapshot
		return err
	}
	return nil
}

// --- users ---

type userRepo struct{ s *Store }

func (r userRepo) Create(_ context.Context, u *model.User) error {
	return r.s.do(func(st *state) error {
		if _, ok := st.users[u.Username]; ok {
			return fmt.Errorf("%w: пользователь %s уже существует", repository.ErrConflict, u.Username)
		}
		st.users[u.Username] = *u
		return nil
	})
}

func (r userRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	var out *model.User
	err := r.s.do(func(st *state) error {
		u, ok := st.users[username]
		if !ok {
			return repository.ErrNotFound
		}
		out = &u
		return nil
	})
	return out, err
}

func (r userRepo) List(_ context.Context, limit, offset int) ([]*model.User, error) {
	var out []*model.User
	err := r.s.do(func(st *state) error {
		all := make([]*model.User, 0, len(st.users))
		for _, u := range st.users {
			u := u
			all = append(all, &u)
		}
		sort.Slice(all, func(i, j int) bool {
			if !all[i].RegisterDate.Equal(all[j].RegisterDate) {
				return all[i].RegisterDate.Before(all[j].RegisterDate)
			}
			return all[i].Username < all[j].Username
		})
		out = page(all, limit, offset)
		return nil
	})
	return out, err
}

func (r userRepo) Count(_ context.Context) (int, error) {
	var n int
	err := r.s.do(func(st *state) error {
		n = len(st.users)
		return nil
	})
	return n, err
}

func (r userRepo) Update(_ context.Context, u *model.User) error {
	return r.s.do(func(st *state) error {
		cur, ok := st.users[u.Username]
		if !ok {
			return repository.ErrNotFound
		}
		cur.PasswordHash = u.PasswordHash
		cur.Permissions = u.Permissions
		st.users[u.Username] = cur
		return nil
	})
}

func (r userRepo) Delete(_ context.Context, username string) error {
	return r.s.do(func(st *state) error {
		if _, ok := st.users[username]; !ok {
			return repository.ErrNotFound
		}
		delete(st.users, username)
		for id, sh := range st.shares {
			if sh.OwnerName != nil && *sh.OwnerName == username {
				sh.OwnerName = nil
				st.shares[id] = sh
			}
		}
		return nil
	})
}

// --- shares ---

type shareRepo struct{ s *Store }

func (r shareRepo) Create(_ context.Context, sh *model.Share) error {
	return r.s.do(func(st *state) error {
		if _, ok := st.shares[sh.ShareID]; ok {
			return fmt.Errorf("%w: шара %s уже существует", repository.ErrConflict, sh.ShareID)
		}
		if sh.OwnerName != nil {
			if _, ok := st.users[*sh.OwnerName]; !ok {
				return fmt.Errorf("%w: владелец не существует", repository.ErrNotFound)
			}
		}
		st.shares[sh.ShareID] = copyShare(*sh)
		return nil
	})
}

func (r shareRepo) GetByID(_ context.Context, shareID string) (*model.Share, error) {
	var out *model.Share
	err := r.s.do(func(st *state) error {
		sh, ok := st.shares[shareID]
		if !ok {
			return repository.ErrNotFound
		}
		c := copyShare(sh)
		out = &c
		return nil
	})
	return out, err
}

func (r shareRepo) GetForUpdate(ctx context.Context, shareID string) (*model.Share, error) {
	return r.GetByID(ctx, shareID)
}

func (r shareRepo) List(_ context.Context, limit, offset int) ([]*model.Share, error) {
	var out []*model.Share
	err := r.s.do(func(st *state) error {
		out = page(sortedShares(st, func(model.Share) bool { return true }), limit, offset)
		return nil
	})
	return out, err
}

func (r shareRepo) Count(_ context.Context) (int, error) {
	var n int
	err := r.s.do(func(st *state) error {
		n = len(st.shares)
		return nil
	})
	return n, err
}

func (r shareRepo) Update(_ context.Context, sh *model.Share) error {
	return r.s.do(func(st *state) error {
		cur, ok := st.shares[sh.ShareID]
		if !ok {
			return repository.ErrNotFound
		}
		if sh.OwnerName != nil {
			if _, ok := st.users[*sh.OwnerName]; !ok {
				return fmt.Errorf("%w: владелец не существует", repository.ErrNotFound)
			}
		}
		cur.OwnerName = sh.OwnerName
		cur.FileName = sh.FileName
		cur.Initialized = sh.Initialized
		cur.Locked = sh.Locked
		st.shares[sh.ShareID] = copyShare(cur)
		return nil
	})
}

func (r shareRepo) Delete(_ context.Context, shareID string) error {
	return r.s.do(func(st *state) error {
		if _, ok := st.shares[shareID]; !ok {
			return repository.ErrNotFound
		}
		delete(st.shares, shareID)
		for id, sess := range st.sessions {
			if sess.ShareID == shareID {
				delete(st.sessions, id)
				delete(st.chunks, id)
			}
		}
		return nil
	})
}

func (r shareRepo) ListUninitializedBefore(_ context.Context, before time.Time) ([]*model.Share, error) {
	var out []*model.Share
	err := r.s.do(func(st *state) error {
		out = sortedShares(st, func(sh model.Share) bool {
			return !sh.Initialized && sh.CreateDate.Before(before)
		})
		return nil
	})
	return out, err
}

func sortedShares(st *state, keep func(model.Share) bool) []*model.Share {
	all := make([]*model.Share, 0, len(st.shares))
	for _, sh := range st.shares {
		if keep(sh) {
			c := copyShare(sh)
			all = append(all, &c)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreateDate.Equal(all[j].CreateDate) {
			return all[i].CreateDate.Before(all[j].CreateDate)
		}
		return all[i].ShareID < all[j].ShareID
	})
	return all
}

func copyShare(sh model.Share) model.Share {
	if sh.OwnerName != nil {
		owner := *sh.OwnerName
		sh.OwnerName = &owner
	}
	return sh
}

// --- uploads ---

type uploadRepo struct{ s *Store }

func (r uploadRepo) EnsureSession(_ context.Context, sess *model.UploadSession) (*model.UploadSession, error) {
	var out *model.UploadSession
	err := r.s.do(func(st *state) error {
		cur, ok := st.sessions[sess.UploadID]
		if !ok {
			if _, ok := st.shares[sess.ShareID]; !ok {
				return fmt.Errorf("%w: шара %s не существует", repository.ErrNotFound, sess.ShareID)
			}
			cur = model.UploadSession{
				UploadID:    sess.UploadID,
				ShareID:     sess.ShareID,
				TotalChunks: sess.TotalChunks,
				CreateDate:  sess.CreateDate,
			}
			st.sessions[sess.UploadID] = cur
		}
		out = &cur
		return nil
	})
	return out, err
}

func (r uploadRepo) GetSession(_ context.Context, uploadID string) (*model.UploadSession, error) {
	var out *model.UploadSession
	err := r.s.do(func(st *state) error {
		cur, ok := st.sessions[uploadID]
		if !ok {
			return repository.ErrNotFound
		}
		out = &cur
		return nil
	})
	return out, err
}

func (r uploadRepo) AddChunk(_ context.Context, c *model.Chunk) (bool, error) {
	var inserted bool
	err := r.s.do(func(st *state) error {
		if _, ok := st.sessions[c.UploadID]; !ok {
			return repository.ErrNotFound
		}
		m := st.chunks[c.UploadID]
		if m == nil {
			m = make(map[int]model.Chunk)
			st.chunks[c.UploadID] = m
		}
		if _, ok := m[c.Index]; ok {
			return nil
		}
		st.nextID++
		c.ChunkID = st.nextID
		m[c.Index] = *c
		inserted = true
		return nil
	})
	return inserted, err
}

func (r uploadRepo) IncrementReceived(_ context.Context, uploadID string) (int, error) {
	var received int
	err := r.s.do(func(st *state) error {
		cur, ok := st.sessions[uploadID]
		if !ok {
			return repository.ErrNotFound
		}
		if cur.ReceivedChunks >= cur.TotalChunks {
			return errors.New("received_chunks превышает total_chunks")
		}
		cur.ReceivedChunks++
		st.sessions[uploadID] = cur
		received = cur.ReceivedChunks
		return nil
	})
	return received, err
}

func (r uploadRepo) MarkCompleted(_ context.Context, uploadID string) error {
	return r.s.do(func(st *state) error {
		cur, ok := st.sessions[uploadID]
		if !ok {
			return repository.ErrNotFound
		}
		cur.Completed = true
		st.sessions[uploadID] = cur
		return nil
	})
}

func (r uploadRepo) ListChunks(_ context.Context, uploadID string) ([]*model.Chunk, error) {
	var out []*model.Chunk
	err := r.s.do(func(st *state) error {
		for _, c := range st.chunks[uploadID] {
			c := c
			out = append(out, &c)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
		return nil
	})
	return out, err
}

func (r uploadRepo) DeleteSession(_ context.Context, uploadID string) error {
	return r.s.do(func(st *state) error {
		if _, ok := st.sessions[uploadID]; !ok {
			return repository.ErrNotFound
		}
		delete(st.sessions, uploadID)
		delete(st.chunks, uploadID)
		return nil
	})
}

func (r uploadRepo) ListSessionsBefore(_ context.Context, before time.Time) ([]*model.UploadSession, error) {
	var out []*model.UploadSession
	err := r.s.do(func(st *state) error {
		for _, sess := range st.sessions {
			if sess.CreateDate.Before(before) {
				sess := sess
				out = append(out, &sess)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreateDate.Before(out[j].CreateDate) })
		return nil
	})
	return out, err
}

// --- settings ---

type settingsRepo struct{ s *Store }

func (r settingsRepo) GetOrCreate(_ context.Context, defaults *model.ServerSettings) (*model.ServerSettings, error) {
	var out *model.ServerSettings
	err := r.s.do(func(st *state) error {
		if st.settings == nil {
			d := *defaults
			st.settings = &d
		}
		c := *st.settings
		out = &c
		return nil
	})
	return out, err
}

func (r settingsRepo) Save(_ context.Context, set *model.ServerSettings) error {
	return r.s.do(func(st *state) error {
		c := *set
		st.settings = &c
		return nil
	})
}

// --- tokens ---

type tokenRepo struct{ s *Store }

func (r tokenRepo) Revoke(_ context.Context, token string, expiresAt, revokedAt time.Time) (bool, error) {
	var inserted bool
	err := r.s.do(func(st *state) error {
		if _, ok := st.tokens[token]; ok {
			return nil
		}
		st.tokens[token] = revokedToken{expiresAt: expiresAt, revokedAt: revokedAt}
		inserted = true
		return nil
	})
	return inserted, err
}

func (r tokenRepo) IsRevoked(_ context.Context, token string) (bool, error) {
	var revoked bool
	err := r.s.do(func(st *state) error {
		_, revoked = st.tokens[token]
		return nil
	})
	return revoked, err
}

func (r tokenRepo) DeleteExpired(_ context.Context, before time.Time) (int, error) {
	var n int
	err := r.s.do(func(st *state) error {
		for k, v := range st.tokens {
			if v.expiresAt.Before(before) {
				delete(st.tokens, k)
				n++
			}
		}
		return nil
	})
	return n, err
}

func page[T any](all []*T, limit, offset int) []*T {
	if offset >= len(all) {
		return nil
	}
	end := offset + limit
	if limit < 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}
