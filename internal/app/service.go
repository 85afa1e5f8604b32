package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"taskhub/api/internal/appstate"
	"taskhub/api/internal/auth"
	"taskhub/api/internal/authpw"
	"taskhub/api/internal/config"
	"taskhub/api/internal/email"
	"taskhub/api/internal/export"
	"taskhub/api/internal/rbac"
	"taskhub/api/internal/realtime"
	"taskhub/api/internal/search"
	"taskhub/api/internal/session"
	"taskhub/api/internal/store"
	"taskhub/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type CreateTaskInput struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	AssignedTo  string    `json:"assignedTo"`
	Deadline    time.Time `json:"deadline"`
	Priority    string    `json:"priority"`
}

type UpdateTaskInput struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	AssignedTo  *string    `json:"assignedTo"`
	Deadline    *time.Time `json:"deadline"`
	Status      *string    `json:"status"`
	Priority    *string    `json:"priority"`
}

type CreateUserInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// CompleteTaskInput carries the completion note and optional proof file.
type CompleteTaskInput struct {
	Note     string
	Filename string
	Size     int64
	File     io.Reader
}

var allowedStatuses = map[string]struct{}{
	store.TaskStatusPending:    {},
	store.TaskStatusInProgress: {},
}

var allowedPriorities = map[string]struct{}{
	store.TaskPriorityHigh:   {},
	store.TaskPriorityMedium: {},
	store.TaskPriorityLow:    {},
}

type dataStore interface {
	CreateProfile(context.Context, store.Profile) error
	GetProfileByEmail(context.Context, string) (store.Profile, error)
	GetProfileByID(context.Context, string) (store.Profile, error)
	ListProfiles(context.Context) ([]store.Profile, error)
	UpdateProfile(context.Context, string, string, string) error
	DeleteProfile(context.Context, string) error
	AssignRole(context.Context, string, string) error
	IsEmailAllowed(context.Context, string) (bool, error)
	ListAllowedEmails(context.Context) ([]store.AllowedEmail, error)
	AddAllowedEmail(context.Context, string, string, string) error
	GetAllowedEmail(context.Context, string) (store.AllowedEmail, error)
	IsAdminEmail(context.Context, string) (bool, error)
	DeleteAllowedEmail(context.Context, string) (bool, error)
	InsertTask(context.Context, store.Task) error
	GetTask(context.Context, string) (store.Task, error)
	ListTasks(context.Context) ([]store.Task, error)
	UpdateTask(context.Context, string, store.TaskPatch) (store.Task, error)
	DeleteTask(context.Context, string) error
	ListTasksDueWithin(context.Context, time.Duration, time.Time) ([]store.Task, error)
	MarkTaskReminded(context.Context, string) error
	InsertComment(context.Context, store.Comment) error
	ListComments(context.Context) ([]store.Comment, error)
	ListTaskComments(context.Context, string) ([]store.Comment, error)
	InsertNotification(context.Context, store.Notification) error
	ListNotificationsFor(context.Context, string) ([]store.Notification, error)
	MarkNotificationRead(context.Context, string, string) (bool, error)
	TeamProgress(context.Context) ([]store.MemberProgress, error)
	ListAttachments(context.Context) ([]store.Attachment, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(context.Context, string, session.TokenData, time.Time) error
	LookupRefreshSession(context.Context, string) (session.TokenData, error)
	RevokeRefreshSession(context.Context, string) error
	Ping(context.Context) error
}

type eventBus interface {
	Publish(context.Context, string) error
}

type changeFeed interface {
	Subscribe(ctx context.Context, topics ...string) (*realtime.Subscription, error)
}

type attachmentStore interface {
	Upload(ctx context.Context, taskID, filename string, size int64, body io.Reader) (string, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	auth     *authpw.Service

	bus    eventBus
	feed   changeFeed
	search *search.Service
	mailer *email.Service
	blob   attachmentStore
}

func New(cfg config.Config, dataStore dataStore, sessions sessionStore, authService *authpw.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		auth:     authService,
	}
}

func (s *Service) AttachBus(bus eventBus)          { s.bus = bus }
func (s *Service) AttachFeed(feed changeFeed)      { s.feed = feed }
func (s *Service) AttachSearch(sv *search.Service) { s.search = sv }
func (s *Service) AttachMailer(sv *email.Service)  { s.mailer = sv }
func (s *Service) AttachBlob(blob attachmentStore) { s.blob = blob }

// StateStore builds a per-principal snapshot store over the same data layer
// the handlers read from.
func (s *Service) StateStore(sess Session) *appstate.Store {
	return appstate.New(s.store, sess.UserID)
}

// WatchState hooks a snapshot store onto the change feed so every published
// signal triggers a full refetch.
func (s *Service) WatchState(ctx context.Context, st *appstate.Store) error {
	if s.feed == nil {
		return domainError(http.StatusServiceUnavailable, "STREAM_UNAVAILABLE", "Change feed is not configured", nil)
	}
	return st.Watch(ctx, s.feed)
}

// Bootstrap seeds the allow-list with the configured admin email when the
// list is empty, so the very first account can get in.
func (s *Service) Bootstrap(ctx context.Context) error {
	entries, err := s.store.ListAllowedEmails(ctx)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return nil
	}
	return s.store.AddAllowedEmail(ctx, util.NewID("alw"), s.cfg.AdminEmail, "")
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingSessions(ctx context.Context) error {
	return s.sessions.Ping(ctx)
}

// ---- sessions ----

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	profile, err := s.auth.SignUp(ctx, req)
	if err != nil {
		return Session{}, err
	}
	// The configured admin address gets the admin role instead of member.
	if strings.EqualFold(profile.Email, s.cfg.AdminEmail) {
		if err := s.store.AssignRole(ctx, profile.ID, string(rbac.RoleAdmin)); err != nil {
			return Session{}, err
		}
		profile.Role = string(rbac.RoleAdmin)
	}
	s.publish(ctx, realtime.TopicProfiles)
	return s.issueSession(ctx, profile)
}

func (s *Service) SignIn(ctx context.Context, req authpw.SignInRequest) (Session, error) {
	profile, err := s.auth.SignIn(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, profile)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	data, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	// Re-read the profile so a role change since sign-in takes effect here.
	profile, err := s.store.GetProfileByID(ctx, data.UserID)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, profile)
}

func (s *Service) issueSession(ctx context.Context, profile store.Profile) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   profile.ID,
		Name:  profile.Name,
		Email: profile.Email,
		Role:  profile.Role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), session.TokenData{
		UserID: profile.ID,
		Name:   profile.Name,
		Email:  profile.Email,
		Role:   profile.Role,
	}, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       profile.ID,
		UserName:     profile.Name,
		Email:        profile.Email,
		Role:         profile.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	profile, err := s.store.GetProfileByID(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    profile.ID,
		UserName:  profile.Name,
		Email:     profile.Email,
		Role:      profile.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) SignOut(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) can(sess Session, action rbac.Action, res rbac.Resource) bool {
	return rbac.Decide(rbac.Role(sess.Role), sess.UserID, action, res)
}

// ---- tasks ----

func (s *Service) ListTasks(ctx context.Context, sess Session) ([]store.Task, error) {
	if !s.can(sess, rbac.ActionViewTasks, rbac.Resource{}) {
		return nil, errForbidden
	}
	return s.store.ListTasks(ctx)
}

func (s *Service) GetTask(ctx context.Context, sess Session, taskID string) (store.Task, error) {
	if !s.can(sess, rbac.ActionViewTasks, rbac.Resource{}) {
		return store.Task{}, errForbidden
	}
	return s.store.GetTask(ctx, taskID)
}

func (s *Service) CreateTask(ctx context.Context, sess Session, input CreateTaskInput) (store.Task, error) {
	if !s.can(sess, rbac.ActionCreateTask, rbac.Resource{}) {
		return store.Task{}, errForbidden
	}
	if err := validateTaskFields(input.Title, input.Description); err != nil {
		return store.Task{}, err
	}
	if input.Deadline.IsZero() {
		return store.Task{}, validationError("deadline", "is required")
	}
	if input.Deadline.Before(time.Now()) {
		return store.Task{}, validationError("deadline", "must not be in the past")
	}
	priority := input.Priority
	if priority == "" {
		priority = store.TaskPriorityMedium
	}
	if _, ok := allowedPriorities[priority]; !ok {
		return store.Task{}, validationError("priority", "must be high, medium or low")
	}

	assignee, err := s.store.GetProfileByID(ctx, input.AssignedTo)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Task{}, validationError("assignedTo", "is not a known user")
		}
		return store.Task{}, err
	}

	task := store.Task{
		ID:          util.NewID("tsk"),
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
		AssignedTo:  assignee.ID,
		Deadline:    input.Deadline,
		Status:      store.TaskStatusPending,
		Priority:    priority,
		CreatedBy:   sess.UserID,
	}
	if err := s.store.InsertTask(ctx, task); err != nil {
		return store.Task{}, err
	}
	created, err := s.store.GetTask(ctx, task.ID)
	if err != nil {
		return store.Task{}, err
	}

	s.notify(ctx, assignee.ID, store.NotificationTaskCreated, "New task assigned: "+created.Title)
	s.sendAssignmentMail(assignee, created, sess.UserName)
	s.indexTask(created)
	s.publish(ctx, realtime.TopicTasks)
	return created, nil
}

func (s *Service) UpdateTask(ctx context.Context, sess Session, taskID string, input UpdateTaskInput) (store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if !s.can(sess, rbac.ActionEditTask, rbac.Resource{CreatedBy: task.CreatedBy, AssignedTo: task.AssignedTo}) {
		return store.Task{}, errForbidden
	}

	patch := store.TaskPatch{
		Title:       input.Title,
		Description: input.Description,
		Deadline:    input.Deadline,
		Status:      input.Status,
		Priority:    input.Priority,
	}
	if input.Title != nil || input.Description != nil {
		title := task.Title
		if input.Title != nil {
			title = *input.Title
		}
		description := task.Description
		if input.Description != nil {
			description = *input.Description
		}
		if err := validateTaskFields(title, description); err != nil {
			return store.Task{}, err
		}
	}
	if input.Deadline != nil && input.Deadline.Before(time.Now()) {
		return store.Task{}, validationError("deadline", "must not be in the past")
	}
	if input.Status != nil {
		if *input.Status == store.TaskStatusCompleted {
			return store.Task{}, validationError("status", "completion goes through the complete operation")
		}
		if _, ok := allowedStatuses[*input.Status]; !ok {
			return store.Task{}, validationError("status", "must be pending or in-progress")
		}
	}
	if input.Priority != nil {
		if _, ok := allowedPriorities[*input.Priority]; !ok {
			return store.Task{}, validationError("priority", "must be high, medium or low")
		}
	}
	if input.AssignedTo != nil {
		if _, err := s.store.GetProfileByID(ctx, *input.AssignedTo); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.Task{}, validationError("assignedTo", "is not a known user")
			}
			return store.Task{}, err
		}
		patch.AssignedTo = input.AssignedTo
	}

	updated, err := s.store.UpdateTask(ctx, taskID, patch)
	if err != nil {
		return store.Task{}, err
	}

	// Update notifications go to the task creator.
	s.notify(ctx, updated.CreatedBy, store.NotificationTaskUpdated, "Task updated: "+updated.Title)
	s.indexTask(updated)
	s.publish(ctx, realtime.TopicTasks)
	return updated, nil
}

func (s *Service) CompleteTask(ctx context.Context, sess Session, taskID string, input CompleteTaskInput) (store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if !s.can(sess, rbac.ActionCompleteTask, rbac.Resource{CreatedBy: task.CreatedBy, AssignedTo: task.AssignedTo}) {
		return store.Task{}, errForbidden
	}
	if task.Status == store.TaskStatusCompleted {
		return store.Task{}, domainError(http.StatusConflict, "ALREADY_COMPLETED", "Task is already completed", nil)
	}

	// Members hand in proof of work with the completion. Storage
	// availability only decides between upload and 503, never whether the
	// attachment is required.
	if input.File == nil && sess.Role == string(rbac.RoleMember) {
		return store.Task{}, validationError("attachment", "is required")
	}

	var attachmentURL *string
	if input.File != nil {
		if s.blob == nil {
			return store.Task{}, domainError(http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "Attachment storage is not configured", nil)
		}
		url, err := s.blob.Upload(ctx, task.ID, input.Filename, input.Size, input.File)
		if err != nil {
			return store.Task{}, err
		}
		attachmentURL = &url
	}

	completed := store.TaskStatusCompleted
	patch := store.TaskPatch{Status: &completed, AttachmentURL: attachmentURL}
	if note := strings.TrimSpace(input.Note); note != "" {
		patch.CompletionNote = &note
	}
	updated, err := s.store.UpdateTask(ctx, taskID, patch)
	if err != nil {
		return store.Task{}, err
	}

	s.notify(ctx, updated.CreatedBy, store.NotificationTaskCompleted, "Task completed: "+updated.Title)
	s.indexTask(updated)
	s.publish(ctx, realtime.TopicTasks)
	return updated, nil
}

func (s *Service) DeleteTask(ctx context.Context, sess Session, taskID string) error {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !s.can(sess, rbac.ActionDeleteTask, rbac.Resource{CreatedBy: task.CreatedBy, AssignedTo: task.AssignedTo}) {
		return errForbidden
	}
	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteTask(taskID)
	}
	s.publish(ctx, realtime.TopicTasks)
	s.publish(ctx, realtime.TopicComments)
	return nil
}

// ---- comments ----

func (s *Service) AddComment(ctx context.Context, sess Session, taskID, content string) (store.Comment, error) {
	if !s.can(sess, rbac.ActionViewTasks, rbac.Resource{}) {
		return store.Comment{}, errForbidden
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return store.Comment{}, validationError("content", "is required")
	}
	if len(content) > 1000 {
		return store.Comment{}, validationError("content", "must be at most 1000 characters")
	}
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return store.Comment{}, err
	}

	comment := store.Comment{
		ID:      util.NewID("cmt"),
		TaskID:  taskID,
		UserID:  sess.UserID,
		Content: content,
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return store.Comment{}, err
	}
	comment.UserName = sess.UserName
	comment.CreatedAt = time.Now()

	s.publish(ctx, realtime.TopicComments)
	return comment, nil
}

func (s *Service) ListTaskComments(ctx context.Context, sess Session, taskID string) ([]store.Comment, error) {
	if !s.can(sess, rbac.ActionViewTasks, rbac.Resource{}) {
		return nil, errForbidden
	}
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return s.store.ListTaskComments(ctx, taskID)
}

// ---- notifications ----

func (s *Service) ListNotifications(ctx context.Context, sess Session) ([]store.Notification, error) {
	return s.store.ListNotificationsFor(ctx, sess.UserID)
}

func (s *Service) MarkNotificationRead(ctx context.Context, sess Session, notificationID string) error {
	changed, err := s.store.MarkNotificationRead(ctx, notificationID, sess.UserID)
	if err != nil {
		return err
	}
	if !changed {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Notification not found", nil)
	}
	s.publish(ctx, realtime.TopicNotifications)
	return nil
}

// ---- allow-list ----

func (s *Service) ListAllowedEmails(ctx context.Context, sess Session) ([]store.AllowedEmail, error) {
	if !s.can(sess, rbac.ActionManageAllowlist, rbac.Resource{}) {
		return nil, errForbidden
	}
	return s.store.ListAllowedEmails(ctx)
}

func (s *Service) AddAllowedEmail(ctx context.Context, sess Session, emailAddr string) (store.AllowedEmail, error) {
	if !s.can(sess, rbac.ActionManageAllowlist, rbac.Resource{}) {
		return store.AllowedEmail{}, errForbidden
	}
	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))
	if err := authpw.ValidateEmail(emailAddr); err != nil {
		return store.AllowedEmail{}, err
	}

	id := util.NewID("alw")
	if err := s.store.AddAllowedEmail(ctx, id, emailAddr, sess.UserID); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.AllowedEmail{}, domainError(http.StatusConflict, "EMAIL_EXISTS", "Email is already on the allow-list", nil)
		}
		return store.AllowedEmail{}, err
	}
	s.publish(ctx, realtime.TopicAllowedEmails)
	return s.store.GetAllowedEmail(ctx, id)
}

// RemoveAllowedEmail deletes an allow-list entry. Entries belonging to admin
// accounts cannot be removed by anyone, which keeps an admin from being
// locked out.
func (s *Service) RemoveAllowedEmail(ctx context.Context, sess Session, id string) error {
	entry, err := s.store.GetAllowedEmail(ctx, id)
	if err != nil {
		return err
	}
	ownerIsAdmin, err := s.store.IsAdminEmail(ctx, entry.Email)
	if err != nil {
		return err
	}
	if !s.can(sess, rbac.ActionDeleteAllowedEmail, rbac.Resource{OwnerIsAdmin: ownerIsAdmin}) {
		if ownerIsAdmin {
			return domainError(http.StatusForbidden, "ADMIN_ENTRY_PROTECTED", "Admin allow-list entries cannot be removed", nil)
		}
		return errForbidden
	}
	changed, err := s.store.DeleteAllowedEmail(ctx, id)
	if err != nil {
		return err
	}
	if !changed {
		return domainError(http.StatusForbidden, "ADMIN_ENTRY_PROTECTED", "Admin allow-list entries cannot be removed", nil)
	}
	s.publish(ctx, realtime.TopicAllowedEmails)
	return nil
}

// ---- users ----

func (s *Service) ListUsers(ctx context.Context, sess Session) ([]store.Profile, error) {
	if !s.can(sess, rbac.ActionViewRoster, rbac.Resource{}) {
		return nil, errForbidden
	}
	return s.store.ListProfiles(ctx)
}

// CreateUser is the admin path for provisioning an account directly. The
// email is placed on the allow-list first so the sign-up rules hold.
func (s *Service) CreateUser(ctx context.Context, sess Session, input CreateUserInput) (store.Profile, error) {
	if !s.can(sess, rbac.ActionManageUsers, rbac.Resource{}) {
		return store.Profile{}, errForbidden
	}
	role := input.Role
	if role == "" {
		role = string(rbac.RoleMember)
	}
	switch rbac.Role(role) {
	case rbac.RoleAdmin, rbac.RoleManager, rbac.RoleMember:
	default:
		return store.Profile{}, validationError("role", "must be admin, manager or member")
	}

	emailAddr := strings.ToLower(strings.TrimSpace(input.Email))
	allowed, err := s.store.IsEmailAllowed(ctx, emailAddr)
	if err != nil {
		return store.Profile{}, err
	}
	if !allowed {
		if err := s.store.AddAllowedEmail(ctx, util.NewID("alw"), emailAddr, sess.UserID); err != nil && !errors.Is(err, store.ErrDuplicate) {
			return store.Profile{}, err
		}
		s.publish(ctx, realtime.TopicAllowedEmails)
	}

	profile, err := s.auth.SignUp(ctx, authpw.SignUpRequest{
		Name:     input.Name,
		Email:    emailAddr,
		Password: input.Password,
	})
	if err != nil {
		return store.Profile{}, err
	}
	if role != string(rbac.RoleMember) {
		if err := s.store.AssignRole(ctx, profile.ID, role); err != nil {
			return store.Profile{}, err
		}
		profile.Role = role
	}
	s.publish(ctx, realtime.TopicProfiles)
	return profile, nil
}

func (s *Service) UpdateUserRole(ctx context.Context, sess Session, userID, role string) error {
	if !s.can(sess, rbac.ActionManageUsers, rbac.Resource{}) {
		return errForbidden
	}
	switch rbac.Role(role) {
	case rbac.RoleAdmin, rbac.RoleManager, rbac.RoleMember:
	default:
		return validationError("role", "must be admin, manager or member")
	}
	if _, err := s.store.GetProfileByID(ctx, userID); err != nil {
		return err
	}
	if err := s.store.AssignRole(ctx, userID, role); err != nil {
		return err
	}
	s.publish(ctx, realtime.TopicProfiles)
	return nil
}

func (s *Service) UpdateUser(ctx context.Context, sess Session, userID, name, emailAddr string) error {
	if !s.can(sess, rbac.ActionManageUsers, rbac.Resource{}) {
		return errForbidden
	}
	name = strings.TrimSpace(name)
	if len(name) < 2 || len(name) > 100 {
		return validationError("name", "must be between 2 and 100 characters")
	}
	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))
	if err := authpw.ValidateEmail(emailAddr); err != nil {
		return err
	}
	if err := s.store.UpdateProfile(ctx, userID, name, emailAddr); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already in use", nil)
		}
		return err
	}
	s.publish(ctx, realtime.TopicProfiles)
	return nil
}

func (s *Service) DeleteUser(ctx context.Context, sess Session, userID string) error {
	if !s.can(sess, rbac.ActionManageUsers, rbac.Resource{}) {
		return errForbidden
	}
	if userID == sess.UserID {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "You cannot delete your own account", nil)
	}
	if err := s.store.DeleteProfile(ctx, userID); err != nil {
		return err
	}
	s.publish(ctx, realtime.TopicProfiles)
	return nil
}

// ---- progress and attachments ----

func (s *Service) TeamProgress(ctx context.Context, sess Session) ([]store.MemberProgress, error) {
	if !s.can(sess, rbac.ActionViewProgress, rbac.Resource{}) {
		return nil, errForbidden
	}
	return s.store.TeamProgress(ctx)
}

func (s *Service) TeamProgressReport(ctx context.Context, sess Session) (*export.Result, error) {
	rows, err := s.TeamProgress(ctx, sess)
	if err != nil {
		return nil, err
	}
	return export.TeamProgressPDF(rows, time.Now())
}

func (s *Service) ListAttachments(ctx context.Context, sess Session) ([]store.Attachment, error) {
	if !s.can(sess, rbac.ActionViewAttachments, rbac.Resource{}) {
		return nil, errForbidden
	}
	return s.store.ListAttachments(ctx)
}

// ---- search ----

func (s *Service) SearchTasks(ctx context.Context, sess Session, q search.Query) (search.Response, error) {
	if !s.can(sess, rbac.ActionViewTasks, rbac.Resource{}) {
		return search.Response{}, errForbidden
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(ctx, q), nil
}

// ---- deadline reminders ----

// RunDeadlineScan notifies assignees of tasks due within 24 hours. A task is
// reminded at most once per day.
func (s *Service) RunDeadlineScan(ctx context.Context) error {
	tasks, err := s.store.ListTasksDueWithin(ctx, 24*time.Hour, time.Now().Add(-24*time.Hour))
	if err != nil {
		return err
	}
	for _, task := range tasks {
		s.notify(ctx, task.AssignedTo, store.NotificationDeadlineApproaching, "Deadline approaching: "+task.Title)
		if s.mailer != nil && s.mailer.IsConfigured() {
			if assignee, err := s.store.GetProfileByID(ctx, task.AssignedTo); err == nil {
				if err := s.mailer.SendDeadlineReminderEmail(assignee.Email, assignee.Name, task.Title, task.Deadline); err != nil {
					log.Printf("reminder mail for task %s: %v", task.ID, err)
				}
			}
		}
		if err := s.store.MarkTaskReminded(ctx, task.ID); err != nil {
			log.Printf("mark task %s reminded: %v", task.ID, err)
		}
	}
	return nil
}

// ---- helpers ----

func (s *Service) notify(ctx context.Context, userID, typ, message string) {
	err := s.store.InsertNotification(ctx, store.Notification{
		ID:      util.NewID("ntf"),
		UserID:  userID,
		Message: message,
		Type:    typ,
	})
	if err != nil {
		log.Printf("insert notification for %s: %v", userID, err)
		return
	}
	s.publish(ctx, realtime.TopicNotifications)
}

func (s *Service) publish(ctx context.Context, topic string) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, topic); err != nil {
		log.Printf("publish change %s: %v", topic, err)
	}
}

func (s *Service) indexTask(task store.Task) {
	if s.search == nil {
		return
	}
	s.search.IndexTask(task)
}

func (s *Service) sendAssignmentMail(assignee store.Profile, task store.Task, createdBy string) {
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return
	}
	go func() {
		if err := s.mailer.SendTaskAssignedEmail(assignee.Email, assignee.Name, task.Title, task.Priority, createdBy, task.Deadline); err != nil {
			log.Printf("assignment mail for task %s: %v", task.ID, err)
		}
	}()
}

func validateTaskFields(title, description string) error {
	title = strings.TrimSpace(title)
	if len(title) < 3 {
		return validationError("title", "must be at least 3 characters")
	}
	if len(title) > 200 {
		return validationError("title", "must be at most 200 characters")
	}
	if len(description) > 2000 {
		return validationError("description", "must be at most 2000 characters")
	}
	return nil
}
