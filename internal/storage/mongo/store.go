// Package mongo: хранилище документов на MongoDB.
// Условные записи членства: FindOneAndUpdate с предикатом в фильтре, изменение одного
// документа в MongoDB атомарно, поэтому проверка вместимости и $push не разделяются.
// Многодокументные каскады выполняются последовательно без транзакции (не требуем replica set).
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/studyhub/internal/logger"
	"github.com/studyhub/internal/model"
	"github.com/studyhub/internal/storage"
)

type Store struct {
	universities *mongo.Collection
	classes      *mongo.Collection
	groups       *mongo.Collection
	chats        *mongo.Collection
}

var _ storage.Store = (*Store)(nil)

func New(db *mongo.Database) *Store {
	return &Store{
		universities: db.Collection("universities"),
		classes:      db.Collection("classes"),
		groups:       db.Collection("study_groups"),
		chats:        db.Collection("chats"),
	}
}

// EnsureIndexes создаёт уникальные индексы, на которых держатся инварианты.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	specs := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{s.universities, []mongo.IndexModel{
			{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "code", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
		{s.classes, []mongo.IndexModel{
			{Keys: bson.D{{Key: "code", Value: 1}, {Key: "universityId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "universityId", Value: 1}, {Key: "createdAt", Value: -1}}},
		}},
		{s.groups, []mongo.IndexModel{
			{Keys: bson.D{{Key: "inviteCode", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true).SetName("inviteCode_unique")},
			{Keys: bson.D{{Key: "classId", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "members", Value: 1}}},
			{Keys: bson.D{{Key: "createdBy", Value: 1}}},
		}},
		{s.chats, []mongo.IndexModel{
			{Keys: bson.D{{Key: "scope", Value: 1}, {Key: "ownerId", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
	}
	for _, spec := range specs {
		if _, err := spec.coll.Indexes().CreateMany(ctx, spec.models); err != nil {
			return fmt.Errorf("mongo.EnsureIndexes %s: %w", spec.coll.Name(), err)
		}
	}
	return nil
}

func newestFirst() *options.FindOptions {
	return options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}})
}

func after() *options.FindOneAndUpdateOptions {
	return options.FindOneAndUpdate().SetReturnDocument(options.After)
}

func (s *Store) CreateUniversity(ctx context.Context, u *model.University) error {
	defer logger.DeferLogDuration("university.Create", time.Now())()
	_, err := s.universities.InsertOne(ctx, universityDoc{ID: u.ID, Name: u.Name, Code: u.Code, CreatedAt: u.CreatedAt})
	if mongo.IsDuplicateKeyError(err) {
		return storage.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("universityRepo.Create: %w", err)
	}
	return nil
}

func (s *Store) GetUniversity(ctx context.Context, id string) (*model.University, error) {
	defer logger.DeferLogDuration("university.GetByID", time.Now())()
	var d universityDoc
	err := s.universities.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("universityRepo.GetByID: %w", err)
	}
	u := d.model()
	return &u, nil
}

func (s *Store) ListUniversities(ctx context.Context) ([]model.University, error) {
	defer logger.DeferLogDuration("university.List", time.Now())()
	cur, err := s.universities.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("universityRepo.List: %w", err)
	}
	var docs []universityDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("universityRepo.List decode: %w", err)
	}
	out := make([]model.University, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

func (s *Store) CreateClass(ctx context.Context, c *model.Class) error {
	defer logger.DeferLogDuration("class.Create", time.Now())()
	_, err := s.classes.InsertOne(ctx, classToDoc(c))
	if mongo.IsDuplicateKeyError(err) {
		return storage.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("classRepo.Create: %w", err)
	}
	return nil
}

func (s *Store) GetClass(ctx context.Context, id string) (*model.Class, error) {
	defer logger.DeferLogDuration("class.GetByID", time.Now())()
	var d classDoc
	err := s.classes.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("classRepo.GetByID: %w", err)
	}
	return d.model(), nil
}

func (s *Store) ListClassesByUniversity(ctx context.Context, universityID string) ([]model.Class, error) {
	defer logger.DeferLogDuration("class.ListByUniversity", time.Now())()
	cur, err := s.classes.Find(ctx, bson.M{"universityId": universityID}, newestFirst())
	if err != nil {
		return nil, fmt.Errorf("classRepo.ListByUniversity: %w", err)
	}
	var docs []classDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("classRepo.ListByUniversity decode: %w", err)
	}
	out := make([]model.Class, 0, len(docs))
	for _, d := range docs {
		out = append(out, *d.model())
	}
	return out, nil
}

func (s *Store) DeleteClass(ctx context.Context, id string) ([]string, error) {
	defer logger.DeferLogDuration("class.Delete", time.Now())()
	if err := s.classes.FindOne(ctx, bson.M{"_id": id}).Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("classRepo.Delete find: %w", err)
	}

	cur, err := s.groups.Find(ctx, bson.M{"classId": id}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("classRepo.Delete groups: %w", err)
	}
	var ids []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &ids); err != nil {
		return nil, fmt.Errorf("classRepo.Delete groups decode: %w", err)
	}
	groupIDs := make([]string, 0, len(ids))
	for _, d := range ids {
		groupIDs = append(groupIDs, d.ID)
	}

	if _, err := s.groups.DeleteMany(ctx, bson.M{"classId": id}); err != nil {
		return nil, fmt.Errorf("classRepo.Delete groups: %w", err)
	}
	chatFilter := bson.M{"$or": bson.A{
		bson.M{"scope": string(model.ChatScopeClass), "ownerId": id},
		bson.M{"scope": string(model.ChatScopeStudyGroup), "ownerId": bson.M{"$in": groupIDs}},
	}}
	if _, err := s.chats.DeleteMany(ctx, chatFilter); err != nil {
		return nil, fmt.Errorf("classRepo.Delete chats: %w", err)
	}
	if _, err := s.classes.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return nil, fmt.Errorf("classRepo.Delete: %w", err)
	}
	return groupIDs, nil
}

func (s *Store) SetClassChatOptOut(ctx context.Context, classID, userID string, optedOut bool) (*model.Class, error) {
	defer logger.DeferLogDuration("class.SetChatOptOut", time.Now())()
	update := bson.M{"$pull": bson.M{"usersOptedOutOfChat": userID}}
	if optedOut {
		update = bson.M{"$addToSet": bson.M{"usersOptedOutOfChat": userID}}
	}
	var d classDoc
	err := s.classes.FindOneAndUpdate(ctx, bson.M{"_id": classID}, update, after()).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("classRepo.SetChatOptOut: %w", err)
	}
	return d.model(), nil
}

func (s *Store) CreateStudyGroup(ctx context.Context, g *model.StudyGroup) error {
	defer logger.DeferLogDuration("studyGroup.Create", time.Now())()
	if err := s.classes.FindOne(ctx, bson.M{"_id": g.ClassID}).Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("studyGroupRepo.Create find class: %w", err)
	}
	doc := groupToDoc(g)
	doc.Version = 1
	if _, err := s.groups.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if strings.Contains(err.Error(), "inviteCode") {
				return storage.ErrDuplicateInviteCode
			}
			return storage.ErrDuplicate
		}
		return fmt.Errorf("studyGroupRepo.Create: %w", err)
	}
	if _, err := s.classes.UpdateOne(ctx, bson.M{"_id": g.ClassID},
		bson.M{"$push": bson.M{"studyGroupIds": g.ID}},
	); err != nil {
		return fmt.Errorf("studyGroupRepo.Create link class: %w", err)
	}
	g.Version = 1
	return nil
}

func (s *Store) GetStudyGroup(ctx context.Context, id string) (*model.StudyGroup, error) {
	defer logger.DeferLogDuration("studyGroup.GetByID", time.Now())()
	var d groupDoc
	err := s.groups.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("studyGroupRepo.GetByID: %w", err)
	}
	return d.model(), nil
}

func (s *Store) listGroups(ctx context.Context, op string, filter bson.M) ([]model.StudyGroup, error) {
	defer logger.DeferLogDuration("studyGroup."+op, time.Now())()
	cur, err := s.groups.Find(ctx, filter, newestFirst())
	if err != nil {
		return nil, fmt.Errorf("studyGroupRepo.%s: %w", op, err)
	}
	var docs []groupDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("studyGroupRepo.%s decode: %w", op, err)
	}
	out := make([]model.StudyGroup, 0, len(docs))
	for _, d := range docs {
		out = append(out, *d.model())
	}
	return out, nil
}

func (s *Store) ListStudyGroupsByClass(ctx context.Context, classID string) ([]model.StudyGroup, error) {
	return s.listGroups(ctx, "ListByClass", bson.M{"classId": classID})
}

func (s *Store) ListStudyGroupsByMember(ctx context.Context, userID string) ([]model.StudyGroup, error) {
	return s.listGroups(ctx, "ListByMember", bson.M{"members": userID})
}

func (s *Store) ListStudyGroupsByCreator(ctx context.Context, userID string) ([]model.StudyGroup, error) {
	return s.listGroups(ctx, "ListByCreator", bson.M{"createdBy": userID})
}

func (s *Store) conditionalGroupUpdate(ctx context.Context, op string, filter, update bson.M) (*model.StudyGroup, error) {
	defer logger.DeferLogDuration("studyGroup."+op, time.Now())()
	var d groupDoc
	err := s.groups.FindOneAndUpdate(ctx, filter, update, after()).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrConditionFailed
	}
	if err != nil {
		return nil, fmt.Errorf("studyGroupRepo.%s: %w", op, err)
	}
	return d.model(), nil
}

func (s *Store) AddMember(ctx context.Context, groupID, userID string) (*model.StudyGroup, error) {
	filter := bson.M{
		"_id":     groupID,
		"members": bson.M{"$ne": userID},
		"$expr":   bson.M{"$lt": bson.A{bson.M{"$size": "$members"}, "$maxMembers"}},
	}
	update := bson.M{
		"$push": bson.M{"members": userID},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
		"$inc":  bson.M{"version": 1},
	}
	return s.conditionalGroupUpdate(ctx, "AddMember", filter, update)
}

func (s *Store) RemoveMember(ctx context.Context, groupID, userID string) (*model.StudyGroup, error) {
	filter := bson.M{
		"_id":       groupID,
		"members":   userID,
		"createdBy": bson.M{"$ne": userID},
	}
	update := bson.M{
		"$pull": bson.M{"members": userID},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
		"$inc":  bson.M{"version": 1},
	}
	return s.conditionalGroupUpdate(ctx, "RemoveMember", filter, update)
}

func (s *Store) UpdateStudyGroup(ctx context.Context, g *model.StudyGroup) (*model.StudyGroup, error) {
	filter := bson.M{
		"_id":   g.ID,
		"$expr": bson.M{"$lte": bson.A{bson.M{"$size": "$members"}, g.MaxMembers}},
	}
	update := bson.M{
		"$set": bson.M{
			"name":        g.Name,
			"description": g.Description,
			"maxMembers":  g.MaxMembers,
		},
		"$max": bson.M{"updatedAt": g.UpdatedAt},
		"$inc": bson.M{"version": 1},
	}
	return s.conditionalGroupUpdate(ctx, "Update", filter, update)
}

func (s *Store) DeleteStudyGroup(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("studyGroup.Delete", time.Now())()
	var d groupDoc
	err := s.groups.FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("studyGroupRepo.Delete: %w", err)
	}
	if _, err := s.chats.DeleteOne(ctx, bson.M{"scope": string(model.ChatScopeStudyGroup), "ownerId": id}); err != nil {
		return fmt.Errorf("studyGroupRepo.Delete chat: %w", err)
	}
	if _, err := s.classes.UpdateOne(ctx, bson.M{"_id": d.ClassID}, bson.M{"$pull": bson.M{"studyGroupIds": id}}); err != nil {
		return fmt.Errorf("studyGroupRepo.Delete unlink class: %w", err)
	}
	return nil
}

// upsertChat применяет update к чату (scope, ownerID), создавая его при отсутствии.
// Два параллельных upsert могут столкнуться на уникальном индексе; повторяем, второй найдёт документ.
func (s *Store) upsertChat(ctx context.Context, scope model.ChatScope, ownerID string, update bson.M) (*chatDoc, error) {
	filter := bson.M{"scope": string(scope), "ownerId": ownerID}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		var d chatDoc
		err := s.chats.FindOneAndUpdate(ctx, filter, update, opts).Decode(&d)
		if err == nil {
			return &d, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *Store) GetOrCreateChat(ctx context.Context, scope model.ChatScope, ownerID string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.GetOrCreate", time.Now())()
	if !scope.Valid() {
		return nil, storage.ErrInvalidScope
	}
	d, err := s.upsertChat(ctx, scope, ownerID, bson.M{"$setOnInsert": bson.M{
		"_id":       uuid.New().String(),
		"messages":  bson.A{},
		"createdAt": time.Now().UTC(),
	}})
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetOrCreate: %w", err)
	}
	return d.model(), nil
}

// AppendMessage: $push атомарен, поэтому позиция сообщения в массиве и есть его seq.
func (s *Store) AppendMessage(ctx context.Context, scope model.ChatScope, ownerID string, msg model.ChatMessage) (string, int64, error) {
	defer logger.DeferLogDuration("chat.AppendMessage", time.Now())()
	if !scope.Valid() {
		return "", 0, storage.ErrInvalidScope
	}
	d, err := s.upsertChat(ctx, scope, ownerID, bson.M{
		"$push": bson.M{"messages": messageDoc{ID: msg.ID, Author: msg.Author, Text: msg.Text, Timestamp: msg.Timestamp}},
		"$setOnInsert": bson.M{
			"_id":       uuid.New().String(),
			"createdAt": time.Now().UTC(),
		},
	})
	if err != nil {
		return "", 0, fmt.Errorf("chatRepo.AppendMessage: %w", err)
	}
	for i := len(d.Messages) - 1; i >= 0; i-- {
		if d.Messages[i].ID == msg.ID {
			return d.ID, int64(i) + 1, nil
		}
	}
	return "", 0, fmt.Errorf("chatRepo.AppendMessage: message %s missing after push", msg.ID)
}
