package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"handbook/api/internal/access"
	"handbook/api/internal/auth"
	"handbook/api/internal/authpw"
	"handbook/api/internal/config"
	"handbook/api/internal/content"
	"handbook/api/internal/email"
	"handbook/api/internal/export"
	"handbook/api/internal/history"
	"handbook/api/internal/search"
	"handbook/api/internal/session"
	"handbook/api/internal/store"
	"handbook/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	SurgeryID    string
	Role         string
	IsSuperuser  bool
	IsElevated   bool
	JTI          string
	ExpiresAt    time.Time
}

// principal converts the session into the shape the access resolvers take.
func (s Session) principal() access.User {
	return access.User{
		ID:          s.UserID,
		Role:        access.Normalize(s.Role),
		IsSuperuser: s.IsSuperuser,
		IsElevated:  s.IsElevated,
	}
}

type dataStore interface {
	Ping(ctx context.Context) error

	GetDefaultSurgery(context.Context) (store.Surgery, error)
	GetSurgery(context.Context, string) (store.Surgery, error)
	GetSurgeryBySlug(context.Context, string) (store.Surgery, error)
	InsertSurgery(context.Context, string, string) (store.Surgery, error)

	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	CreateUser(context.Context, store.User) (store.User, error)
	UpdateUserPassword(context.Context, string, string) error

	GetMembership(context.Context, string, string) (store.Membership, error)
	UpsertMembership(context.Context, store.Membership) error
	ListMembers(context.Context, string) ([]store.User, error)

	ListCategories(context.Context, string) ([]store.Category, error)
	GetCategory(context.Context, string) (store.Category, error)
	InsertCategory(context.Context, store.Category) (store.Category, error)
	UpdateCategory(context.Context, store.Category) error
	DeleteCategory(context.Context, string) error
	CountCategoryChildren(context.Context, string) (int, error)
	CountCategoryItems(context.Context, string) (int, error)

	ListItems(context.Context, string) ([]store.Item, error)
	GetItem(context.Context, string) (store.Item, error)
	InsertItem(context.Context, store.Item) (store.Item, error)
	UpdateItem(context.Context, store.Item) error
	SoftDeleteItem(context.Context, string) error
	SetItemPinned(context.Context, string, bool) error

	ListEntries(context.Context, string) ([]store.ListEntry, error)
	InsertListEntry(context.Context, store.ListEntry) (store.ListEntry, error)
	DeleteListEntry(context.Context, string) error

	ListItemGrants(context.Context, string) ([]store.EditGrant, error)
	ListSurgeryGrants(context.Context, string) ([]store.EditGrant, error)
	InsertGrant(context.Context, store.EditGrant) (store.EditGrant, error)
	DeleteGrant(context.Context, string) error

	ListRestrictedEditors(context.Context, string) ([]store.RestrictedEditor, error)
	ListSurgeryRestrictedEditors(context.Context, string) ([]store.RestrictedEditor, error)
	InsertRestrictedEditor(context.Context, string, string) error
	DeleteRestrictedEditor(context.Context, string, string) error

	InsertAuditEvent(context.Context, store.AuditEvent) error
	ListAuditEvents(context.Context, string, int) ([]store.AuditEvent, error)
}

type sessionStore interface {
	Save(ctx context.Context, tokenHash string, rec session.Record, expiresAt time.Time) error
	Lookup(ctx context.Context, tokenHash string) (session.Record, error)
	Revoke(ctx context.Context, tokenHash string) error
}

type historyService interface {
	Record(itemID string, snap history.Snapshot, author, message string) (history.Revision, error)
	History(itemID string, limit int) ([]history.Revision, error)
	Snapshot(itemID, hash string) (history.Snapshot, error)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	passwords *authpw.Service
	history   historyService
	search    *search.Service
	exporter  *export.Service
	email     *email.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions *session.RedisStore, hist *history.Service, searchSvc *search.Service, emailSvc *email.Service, archive *export.Archive) *Service {
	s := &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  sessions,
		passwords: authpw.NewService(dataStore),
		history:   hist,
		search:    searchSvc,
		email:     emailSvc,
	}
	s.exporter = export.NewService(pageSource{store: s.store, history: hist}, archive)
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Bootstrap makes sure a surgery, the seed superuser, and a starter handbook
// exist. Safe to run on every start.
func (s *Service) Bootstrap(ctx context.Context) error {
	surgery, err := s.store.GetDefaultSurgery(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		surgery, err = s.store.InsertSurgery(ctx, "Hightown Surgery", "hightown")
	}
	if err != nil {
		return fmt.Errorf("bootstrap surgery: %w", err)
	}

	if s.cfg.SeedSuperuserEmail != "" {
		_, err := s.store.GetUserByEmail(ctx, s.cfg.SeedSuperuserEmail)
		if errors.Is(err, sql.ErrNoRows) {
			user, err := s.passwords.Provision(ctx, "Handbook Admin", s.cfg.SeedSuperuserEmail, s.cfg.SeedSuperuserPassword, true)
			if err != nil {
				return fmt.Errorf("bootstrap superuser: %w", err)
			}
			if err := s.store.UpsertMembership(ctx, store.Membership{
				UserID:    user.ID,
				SurgeryID: surgery.ID,
				Role:      string(access.RoleAdmin),
			}); err != nil {
				return fmt.Errorf("bootstrap superuser membership: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("bootstrap superuser lookup: %w", err)
		}
	}

	categories, err := s.store.ListCategories(ctx, surgery.ID)
	if err != nil {
		return fmt.Errorf("bootstrap categories: %w", err)
	}
	if len(categories) == 0 {
		if err := s.seedStarterHandbook(ctx, surgery.ID); err != nil {
			return err
		}
	}

	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	return nil
}

func (s *Service) seedStarterHandbook(ctx context.Context, surgeryID string) error {
	practice, err := s.store.InsertCategory(ctx, store.Category{
		ID:             util.NewID("cat"),
		SurgeryID:      surgeryID,
		Name:           "Practice Life",
		SortOrder:      0,
		VisibilityMode: string(access.VisibilityAll),
	})
	if err != nil {
		return fmt.Errorf("seed category: %w", err)
	}
	if _, err := s.store.InsertCategory(ctx, store.Category{
		ID:             util.NewID("cat"),
		SurgeryID:      surgeryID,
		Name:           "Clinical",
		SortOrder:      1,
		VisibilityMode: string(access.VisibilityAll),
	}); err != nil {
		return fmt.Errorf("seed category: %w", err)
	}

	doc := &content.Document{Blocks: []content.Block{
		{Kind: content.KindIntroText, HTML: "<p>Welcome to the practice handbook. Pages here cover how we work day to day.</p>"},
		{Kind: content.KindFooterText, HTML: "<p>Speak to the practice manager if anything looks out of date.</p>"},
	}}
	raw, err := content.Encode(doc)
	if err != nil {
		return fmt.Errorf("seed page content: %w", err)
	}

	item, err := s.store.InsertItem(ctx, store.Item{
		ID:         util.NewID("itm"),
		SurgeryID:  surgeryID,
		CategoryID: &practice.ID,
		Type:       store.ItemTypePage,
		Title:      "Welcome",
		Content:    raw,
		CreatedBy:  "system",
	})
	if err != nil {
		return fmt.Errorf("seed welcome page: %w", err)
	}

	if s.history != nil {
		if _, err := s.history.Record(item.ID, history.Snapshot{Title: item.Title, Content: item.Content}, "system", "seed welcome page"); err != nil {
			log.Printf("app: seed history: %v", err)
		}
	}
	return nil
}

// SignIn authenticates a user and opens a session against one surgery. An
// empty slug selects the default surgery.
func (s *Service) SignIn(ctx context.Context, emailAddr, password, surgerySlug string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, emailAddr, password)
	if err != nil {
		return Session{}, err
	}

	surgery, err := s.lookupSurgery(ctx, surgerySlug)
	if err != nil {
		return Session{}, err
	}

	membership, err := s.store.GetMembership(ctx, user.ID, surgery.ID)
	if err != nil {
		return Session{}, fmt.Errorf("load membership: %w", err)
	}

	return s.issueSession(ctx, user, surgery.ID, membership)
}

func (s *Service) lookupSurgery(ctx context.Context, slug string) (store.Surgery, error) {
	if strings.TrimSpace(slug) == "" {
		return s.store.GetDefaultSurgery(ctx)
	}
	return s.store.GetSurgeryBySlug(ctx, slug)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	rec, err := s.sessions.Lookup(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.Revoke(ctx, tokenHash); err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, rec.UserID)
	if err != nil {
		return Session{}, err
	}
	if user.DeactivatedAt != nil {
		return Session{}, authpw.ErrAccountDeactivated
	}
	membership, err := s.store.GetMembership(ctx, user.ID, rec.SurgeryID)
	if err != nil {
		return Session{}, fmt.Errorf("load membership: %w", err)
	}
	return s.issueSession(ctx, user, rec.SurgeryID, membership)
}

func (s *Service) issueSession(ctx context.Context, user store.User, surgeryID string, membership store.Membership) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:       user.ID,
		Name:      user.DisplayName,
		SurgeryID: surgeryID,
		Role:      membership.Role,
		Superuser: user.IsSuperuser,
		Elevated:  membership.IsElevated,
		JTI:       jti,
		Exp:       expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.Save(ctx, auth.HashToken(refresh), session.Record{
		UserID:    user.ID,
		SurgeryID: surgeryID,
	}, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		SurgeryID:    surgeryID,
		Role:         membership.Role,
		IsSuperuser:  user.IsSuperuser,
		IsElevated:   membership.IsElevated,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates an access token and reloads the user and
// membership so deactivation and role changes take effect immediately.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if user.DeactivatedAt != nil {
		return Session{}, auth.ErrInvalidToken
	}
	membership, err := s.store.GetMembership(ctx, user.ID, claims.SurgeryID)
	if err != nil {
		return Session{}, fmt.Errorf("load membership: %w", err)
	}

	return Session{
		Token:       token,
		UserID:      user.ID,
		UserName:    user.DisplayName,
		SurgeryID:   claims.SurgeryID,
		Role:        membership.Role,
		IsSuperuser: user.IsSuperuser,
		IsElevated:  membership.IsElevated,
		JTI:         claims.JTI,
		ExpiresAt:   time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) SignOut(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		return s.sessions.Revoke(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, sess Session, current, next string) error {
	return s.passwords.ChangePassword(ctx, sess.UserID, current, next)
}

// Members

type MemberInput struct {
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	Role        string `json:"role"`
	IsElevated  bool   `json:"isElevated"`
}

func (s *Service) ListMembers(ctx context.Context, sess Session) ([]map[string]any, error) {
	if !access.CanManage(sess.principal()) {
		return nil, errForbidden()
	}
	users, err := s.store.ListMembers(ctx, sess.SurgeryID)
	if err != nil {
		return nil, err
	}
	members := make([]map[string]any, 0, len(users))
	for _, user := range users {
		membership, err := s.store.GetMembership(ctx, user.ID, sess.SurgeryID)
		if err != nil {
			return nil, err
		}
		members = append(members, map[string]any{
			"id":          user.ID,
			"displayName": user.DisplayName,
			"email":       user.Email,
			"role":        membership.Role,
			"isElevated":  membership.IsElevated,
			"isSuperuser": user.IsSuperuser,
			"deactivated": user.DeactivatedAt != nil,
		})
	}
	return members, nil
}

func (s *Service) ProvisionMember(ctx context.Context, sess Session, input MemberInput) (map[string]any, error) {
	if !access.CanManage(sess.principal()) {
		return nil, errForbidden()
	}
	if strings.TrimSpace(input.Email) == "" {
		return nil, errValidation("email is required")
	}
	role := string(access.Normalize(input.Role))

	user, err := s.passwords.Provision(ctx, input.DisplayName, input.Email, input.Password, false)
	if err != nil {
		if errors.Is(err, authpw.ErrWeakPassword) {
			return nil, errValidation(err.Error())
		}
		return nil, err
	}
	if err := s.store.UpsertMembership(ctx, store.Membership{
		UserID:     user.ID,
		SurgeryID:  sess.SurgeryID,
		Role:       role,
		IsElevated: input.IsElevated,
	}); err != nil {
		return nil, err
	}

	s.audit(ctx, sess, "member.provisioned", nil, nil, map[string]any{"memberId": user.ID, "role": role})

	if s.email != nil && s.email.IsConfigured() {
		surgery, err := s.store.GetSurgery(ctx, sess.SurgeryID)
		if err == nil {
			go func() {
				if err := s.email.SendWelcomeEmail(user.Email, user.DisplayName, surgery.Name, s.cfg.CORSOrigin); err != nil {
					log.Printf("app: welcome email: %v", err)
				}
			}()
		}
	}

	return map[string]any{
		"id":          user.ID,
		"displayName": user.DisplayName,
		"email":       user.Email,
		"role":        role,
		"isElevated":  input.IsElevated,
	}, nil
}

type MembershipUpdateInput struct {
	Role       *string `json:"role"`
	IsElevated *bool   `json:"isElevated"`
}

func (s *Service) UpdateMembership(ctx context.Context, sess Session, userID string, input MembershipUpdateInput) error {
	if !access.CanManage(sess.principal()) {
		return errForbidden()
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound()
		}
		return err
	}
	membership, err := s.store.GetMembership(ctx, userID, sess.SurgeryID)
	if err != nil {
		return err
	}
	if input.Role != nil {
		membership.Role = string(access.Normalize(*input.Role))
	}
	if input.IsElevated != nil {
		membership.IsElevated = *input.IsElevated
	}
	membership.UserID = userID
	membership.SurgeryID = sess.SurgeryID
	if err := s.store.UpsertMembership(ctx, membership); err != nil {
		return err
	}
	s.audit(ctx, sess, "member.updated", nil, nil, map[string]any{"memberId": userID, "role": membership.Role, "isElevated": membership.IsElevated})
	return nil
}

// audit records an event and never fails the caller.
func (s *Service) audit(ctx context.Context, sess Session, eventType string, itemID, categoryID *string, payload map[string]any) {
	if err := s.store.InsertAuditEvent(ctx, store.AuditEvent{
		SurgeryID:  sess.SurgeryID,
		EventType:  eventType,
		ActorID:    sess.UserID,
		ItemID:     itemID,
		CategoryID: categoryID,
		Payload:    payload,
	}); err != nil {
		log.Printf("app: audit %s: %v", eventType, err)
	}
}

func (s *Service) AuditLog(ctx context.Context, sess Session, limit int) ([]store.AuditEvent, error) {
	if !access.CanManage(sess.principal()) {
		return nil, errForbidden()
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListAuditEvents(ctx, sess.SurgeryID, limit)
}
