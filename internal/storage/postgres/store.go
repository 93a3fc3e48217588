// Package postgres: хранилище документов на PostgreSQL (pgx).
// Условные записи членства выражены одним UPDATE ... WHERE <предикат> RETURNING:
// строка блокируется, предикат перепроверяется на последней версии, поэтому
// параллельные вступления в последнее свободное место не могут оба пройти.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/studyhub/internal/logger"
	"github.com/studyhub/internal/model"
	"github.com/studyhub/internal/storage"
)

const (
	pgUniqueViolation    = "23505"
	inviteCodeConstraint = "study_groups_invite_code_key"
	groupColumns         = `id, name, class_id, created_by, members, description, max_members, is_private, COALESCE(invite_code, ''), created_at, updated_at, version`
	classColumns         = `id, name, code, university_id, created_by, description, study_group_ids, users_opted_out_of_chat, created_at`
	universityColumns    = `id, name, code, created_at`
	chatMessageColumns   = `id, seq, author, text, created_at`
)

type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func uniqueViolation(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanGroup(row pgx.Row) (*model.StudyGroup, error) {
	g := &model.StudyGroup{}
	err := row.Scan(&g.ID, &g.Name, &g.ClassID, &g.CreatedBy, &g.Members, &g.Description,
		&g.MaxMembers, &g.IsPrivate, &g.InviteCode, &g.CreatedAt, &g.UpdatedAt, &g.Version)
	if err != nil {
		return nil, err
	}
	if g.Members == nil {
		g.Members = []string{}
	}
	return g, nil
}

func scanClass(row pgx.Row) (*model.Class, error) {
	c := &model.Class{}
	err := row.Scan(&c.ID, &c.Name, &c.Code, &c.UniversityID, &c.CreatedBy, &c.Description,
		&c.StudyGroupIDs, &c.UsersOptedOutOfChat, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return c.Clone(), nil
}

func (s *Store) CreateUniversity(ctx context.Context, u *model.University) error {
	defer logger.DeferLogDuration("university.Create", time.Now())()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO universities (id, name, code, created_at) VALUES ($1, $2, $3, $4)`,
		u.ID, u.Name, u.Code, u.CreatedAt,
	)
	if _, dup := uniqueViolation(err); dup {
		return storage.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("universityRepo.Create: %w", err)
	}
	return nil
}

func (s *Store) GetUniversity(ctx context.Context, id string) (*model.University, error) {
	defer logger.DeferLogDuration("university.GetByID", time.Now())()
	u := &model.University{}
	err := s.pool.QueryRow(ctx,
		`SELECT `+universityColumns+` FROM universities WHERE id = $1`, id,
	).Scan(&u.ID, &u.Name, &u.Code, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("universityRepo.GetByID: %w", err)
	}
	return u, nil
}

func (s *Store) ListUniversities(ctx context.Context) ([]model.University, error) {
	defer logger.DeferLogDuration("university.List", time.Now())()
	rows, err := s.pool.Query(ctx, `SELECT `+universityColumns+` FROM universities ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("universityRepo.List: %w", err)
	}
	defer rows.Close()
	out := make([]model.University, 0)
	for rows.Next() {
		var u model.University
		if err := rows.Scan(&u.ID, &u.Name, &u.Code, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("universityRepo.List scan: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) CreateClass(ctx context.Context, c *model.Class) error {
	defer logger.DeferLogDuration("class.Create", time.Now())()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO classes (id, name, code, university_id, created_by, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Name, c.Code, c.UniversityID, c.CreatedBy, c.Description, c.CreatedAt,
	)
	if _, dup := uniqueViolation(err); dup {
		return storage.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("classRepo.Create: %w", err)
	}
	return nil
}

func (s *Store) GetClass(ctx context.Context, id string) (*model.Class, error) {
	defer logger.DeferLogDuration("class.GetByID", time.Now())()
	c, err := scanClass(s.pool.QueryRow(ctx, `SELECT `+classColumns+` FROM classes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("classRepo.GetByID: %w", err)
	}
	return c, nil
}

func (s *Store) ListClassesByUniversity(ctx context.Context, universityID string) ([]model.Class, error) {
	defer logger.DeferLogDuration("class.ListByUniversity", time.Now())()
	rows, err := s.pool.Query(ctx,
		`SELECT `+classColumns+` FROM classes WHERE university_id = $1 ORDER BY created_at DESC, id`, universityID)
	if err != nil {
		return nil, fmt.Errorf("classRepo.ListByUniversity: %w", err)
	}
	defer rows.Close()
	out := make([]model.Class, 0)
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, fmt.Errorf("classRepo.ListByUniversity scan: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) DeleteClass(ctx context.Context, id string) ([]string, error) {
	defer logger.DeferLogDuration("class.Delete", time.Now())()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("classRepo.Delete begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists string
	err = tx.QueryRow(ctx, `SELECT id FROM classes WHERE id = $1 FOR UPDATE`, id).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("classRepo.Delete lock: %w", err)
	}

	rows, err := tx.Query(ctx, `DELETE FROM study_groups WHERE class_id = $1 RETURNING id`, id)
	if err != nil {
		return nil, fmt.Errorf("classRepo.Delete groups: %w", err)
	}
	groupIDs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("classRepo.Delete groups scan: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM chats WHERE (scope = 'studyGroup' AND owner_id = ANY($2::text[])) OR (scope = 'class' AND owner_id = $1)`,
		id, groupIDs,
	); err != nil {
		return nil, fmt.Errorf("classRepo.Delete chats: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM classes WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("classRepo.Delete: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("classRepo.Delete commit: %w", err)
	}
	return groupIDs, nil
}

func (s *Store) SetClassChatOptOut(ctx context.Context, classID, userID string, optedOut bool) (*model.Class, error) {
	defer logger.DeferLogDuration("class.SetChatOptOut", time.Now())()
	query := `UPDATE classes SET users_opted_out_of_chat = array_remove(users_opted_out_of_chat, $2::text)
		WHERE id = $1 RETURNING ` + classColumns
	if optedOut {
		query = `UPDATE classes SET users_opted_out_of_chat = CASE
				WHEN $2::text = ANY(users_opted_out_of_chat) THEN users_opted_out_of_chat
				ELSE array_append(users_opted_out_of_chat, $2::text) END
			WHERE id = $1 RETURNING ` + classColumns
	}
	c, err := scanClass(s.pool.QueryRow(ctx, query, classID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("classRepo.SetChatOptOut: %w", err)
	}
	return c, nil
}

func (s *Store) CreateStudyGroup(ctx context.Context, g *model.StudyGroup) error {
	defer logger.DeferLogDuration("studyGroup.Create", time.Now())()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("studyGroupRepo.Create begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var classID string
	err = tx.QueryRow(ctx, `SELECT id FROM classes WHERE id = $1 FOR UPDATE`, g.ClassID).Scan(&classID)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("studyGroupRepo.Create lock class: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO study_groups (id, name, class_id, created_by, members, description, max_members, is_private, invite_code, created_at, updated_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)`,
		g.ID, g.Name, g.ClassID, g.CreatedBy, g.Members, g.Description, g.MaxMembers, g.IsPrivate,
		nullIfEmpty(g.InviteCode), g.CreatedAt, g.UpdatedAt,
	)
	if pgErr, dup := uniqueViolation(err); dup {
		if pgErr.ConstraintName == inviteCodeConstraint {
			return storage.ErrDuplicateInviteCode
		}
		return storage.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("studyGroupRepo.Create: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE classes SET study_group_ids = array_append(study_group_ids, $2) WHERE id = $1`,
		g.ClassID, g.ID,
	); err != nil {
		return fmt.Errorf("studyGroupRepo.Create link class: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("studyGroupRepo.Create commit: %w", err)
	}
	g.Version = 1
	return nil
}

func (s *Store) GetStudyGroup(ctx context.Context, id string) (*model.StudyGroup, error) {
	defer logger.DeferLogDuration("studyGroup.GetByID", time.Now())()
	g, err := scanGroup(s.pool.QueryRow(ctx, `SELECT `+groupColumns+` FROM study_groups WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("studyGroupRepo.GetByID: %w", err)
	}
	return g, nil
}

func (s *Store) listGroups(ctx context.Context, op, where string, arg any) ([]model.StudyGroup, error) {
	defer logger.DeferLogDuration("studyGroup."+op, time.Now())()
	rows, err := s.pool.Query(ctx,
		`SELECT `+groupColumns+` FROM study_groups WHERE `+where+` ORDER BY created_at DESC, id`, arg)
	if err != nil {
		return nil, fmt.Errorf("studyGroupRepo.%s: %w", op, err)
	}
	defer rows.Close()
	out := make([]model.StudyGroup, 0)
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("studyGroupRepo.%s scan: %w", op, err)
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func (s *Store) ListStudyGroupsByClass(ctx context.Context, classID string) ([]model.StudyGroup, error) {
	return s.listGroups(ctx, "ListByClass", `class_id = $1`, classID)
}

func (s *Store) ListStudyGroupsByMember(ctx context.Context, userID string) ([]model.StudyGroup, error) {
	return s.listGroups(ctx, "ListByMember", `members @> ARRAY[$1::text]`, userID)
}

func (s *Store) ListStudyGroupsByCreator(ctx context.Context, userID string) ([]model.StudyGroup, error) {
	return s.listGroups(ctx, "ListByCreator", `created_by = $1`, userID)
}

func (s *Store) conditionalGroupUpdate(ctx context.Context, op, query string, args ...any) (*model.StudyGroup, error) {
	defer logger.DeferLogDuration("studyGroup."+op, time.Now())()
	g, err := scanGroup(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrConditionFailed
	}
	if err != nil {
		return nil, fmt.Errorf("studyGroupRepo.%s: %w", op, err)
	}
	return g, nil
}

func (s *Store) AddMember(ctx context.Context, groupID, userID string) (*model.StudyGroup, error) {
	return s.conditionalGroupUpdate(ctx, "AddMember",
		`UPDATE study_groups SET members = array_append(members, $2::text), updated_at = now(), version = version + 1
		 WHERE id = $1 AND NOT ($2::text = ANY(members)) AND cardinality(members) < max_members
		 RETURNING `+groupColumns,
		groupID, userID,
	)
}

func (s *Store) RemoveMember(ctx context.Context, groupID, userID string) (*model.StudyGroup, error) {
	return s.conditionalGroupUpdate(ctx, "RemoveMember",
		`UPDATE study_groups SET members = array_remove(members, $2::text), updated_at = now(), version = version + 1
		 WHERE id = $1 AND $2::text = ANY(members) AND created_by <> $2::text
		 RETURNING `+groupColumns,
		groupID, userID,
	)
}

func (s *Store) UpdateStudyGroup(ctx context.Context, g *model.StudyGroup) (*model.StudyGroup, error) {
	return s.conditionalGroupUpdate(ctx, "Update",
		`UPDATE study_groups SET name = $2, description = $3, max_members = $4,
		     updated_at = GREATEST(updated_at, $5), version = version + 1
		 WHERE id = $1 AND cardinality(members) <= $4
		 RETURNING `+groupColumns,
		g.ID, g.Name, g.Description, g.MaxMembers, g.UpdatedAt,
	)
}

func (s *Store) DeleteStudyGroup(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("studyGroup.Delete", time.Now())()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("studyGroupRepo.Delete begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var classID string
	err = tx.QueryRow(ctx, `DELETE FROM study_groups WHERE id = $1 RETURNING class_id`, id).Scan(&classID)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("studyGroupRepo.Delete: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM chats WHERE scope = 'studyGroup' AND owner_id = $1`, id); err != nil {
		return fmt.Errorf("studyGroupRepo.Delete chat: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE classes SET study_group_ids = array_remove(study_group_ids, $2) WHERE id = $1`, classID, id,
	); err != nil {
		return fmt.Errorf("studyGroupRepo.Delete unlink class: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("studyGroupRepo.Delete commit: %w", err)
	}
	return nil
}

// ensureChat возвращает id и время создания чата, создавая его при отсутствии.
// Вставка конкурентного запроса может быть ещё не видна снимку SELECT: тогда повторяем.
func (s *Store) ensureChat(ctx context.Context, scope model.ChatScope, ownerID string) (string, time.Time, error) {
	for attempt := 0; attempt < 3; attempt++ {
		var (
			id      string
			created time.Time
		)
		err := s.pool.QueryRow(ctx,
			`WITH ins AS (
				INSERT INTO chats (id, scope, owner_id, created_at) VALUES ($1, $2, $3, now())
				ON CONFLICT (scope, owner_id) DO NOTHING
				RETURNING id, created_at
			)
			SELECT id, created_at FROM ins
			UNION ALL
			SELECT id, created_at FROM chats WHERE scope = $2 AND owner_id = $3
			LIMIT 1`,
			uuid.New().String(), string(scope), ownerID,
		).Scan(&id, &created)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return "", time.Time{}, err
		}
		return id, created, nil
	}
	return "", time.Time{}, fmt.Errorf("chat %s/%s not visible after insert", scope, ownerID)
}

func (s *Store) GetOrCreateChat(ctx context.Context, scope model.ChatScope, ownerID string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.GetOrCreate", time.Now())()
	if !scope.Valid() {
		return nil, storage.ErrInvalidScope
	}
	id, created, err := s.ensureChat(ctx, scope, ownerID)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetOrCreate: %w", err)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+chatMessageColumns+` FROM chat_messages WHERE chat_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetOrCreate messages: %w", err)
	}
	defer rows.Close()
	chat := &model.Chat{ID: id, Scope: scope, OwnerID: ownerID, Messages: []model.ChatMessage{}, CreatedAt: created}
	for rows.Next() {
		var m model.ChatMessage
		if err := rows.Scan(&m.ID, &m.Seq, &m.Author, &m.Text, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("chatRepo.GetOrCreate scan: %w", err)
		}
		chat.Messages = append(chat.Messages, m)
	}
	return chat, rows.Err()
}

// AppendMessage: seq берётся из последовательности chat_messages, по нему же сортирует GetOrCreateChat.
func (s *Store) AppendMessage(ctx context.Context, scope model.ChatScope, ownerID string, msg model.ChatMessage) (string, int64, error) {
	defer logger.DeferLogDuration("chat.AppendMessage", time.Now())()
	if !scope.Valid() {
		return "", 0, storage.ErrInvalidScope
	}
	id, _, err := s.ensureChat(ctx, scope, ownerID)
	if err != nil {
		return "", 0, fmt.Errorf("chatRepo.AppendMessage: %w", err)
	}
	var seq int64
	if err := s.pool.QueryRow(ctx,
		`INSERT INTO chat_messages (id, chat_id, author, text, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING seq`,
		msg.ID, id, msg.Author, msg.Text, msg.Timestamp,
	).Scan(&seq); err != nil {
		return "", 0, fmt.Errorf("chatRepo.AppendMessage insert: %w", err)
	}
	return id, seq, nil
}
