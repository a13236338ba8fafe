package service

import (
	"context"
	"strings"

	"chat-service/apperr"
	"chat-service/model"

	"gorm.io/gorm"
)

const searchLimit = 20

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern builds a case-insensitive substring pattern for LIKE ... ESCAPE '\'.
func likePattern(term string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(term))) + "%"
}

const matchUserSQL = `(LOWER(username) LIKE @p ESCAPE '\' OR LOWER(email) LIKE @p ESCAPE '\' OR ` +
	`LOWER(name) LIKE @p ESCAPE '\' OR LOWER(google_name) LIKE @p ESCAPE '\' OR LOWER(google_email) LIKE @p ESCAPE '\')`

func (s *Service) User(ctx context.Context, id string) (*model.User, error) {
	db, cancel := s.store(ctx)
	defer cancel()

	var user model.User
	if err := db.Where("id = ?", id).First(&user).Error; err != nil {
		if notFound(err) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, s.fail("users.User", err)
	}
	return &user, nil
}

// profiles resolves display profiles for ids. Unknown ids get the
// placeholder profile.
func (s *Service) profiles(db *gorm.DB, ids []string) (map[string]model.DisplayProfile, error) {
	out := make(map[string]model.DisplayProfile, len(ids))
	ids = unique(ids)
	if len(ids) == 0 {
		return out, nil
	}

	var users []model.User
	if err := db.Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]*model.User, len(users))
	for i := range users {
		byID[users[i].ID] = &users[i]
	}
	for _, id := range ids {
		out[id] = model.Profile(id, byID[id])
	}
	return out, nil
}

func (s *Service) profile(db *gorm.DB, id string) (model.DisplayProfile, error) {
	profiles, err := s.profiles(db, []string{id})
	if err != nil {
		return model.DisplayProfile{}, err
	}
	return profiles[id], nil
}

// SearchUsers finds people the caller could send a friend request to: not
// the caller, not a system account, and with no request record either way.
func (s *Service) SearchUsers(ctx context.Context, userID, term string) ([]model.DisplayProfile, error) {
	if userID == "" {
		return nil, apperr.ErrNotAuthorized
	}
	result := []model.DisplayProfile{}
	if strings.TrimSpace(term) == "" {
		return result, nil
	}
	db, cancel := s.store(ctx)
	defer cancel()

	var users []model.User
	err := db.
		Where("id <> ? AND is_system = ?", userID, false).
		Where("id NOT IN (SELECT recipient_id FROM friend_requests WHERE requester_id = ?)", userID).
		Where("id NOT IN (SELECT requester_id FROM friend_requests WHERE recipient_id = ?)", userID).
		Where(matchUserSQL, map[string]any{"p": likePattern(term)}).
		Order("username").
		Limit(searchLimit).
		Find(&users).Error
	if err != nil {
		return nil, s.fail("users.SearchUsers", err)
	}

	for i := range users {
		result = append(result, model.Profile(users[i].ID, &users[i]))
	}
	return result, nil
}

// EnsureSystemUser returns the single system account, creating it with the
// given profile on first use.
func (s *Service) EnsureSystemUser(ctx context.Context, name, picture string) (*model.User, error) {
	db, cancel := s.store(ctx)
	defer cancel()

	var user model.User
	err := db.Where("is_system = ?", true).Order("created_at").First(&user).Error
	if err == nil {
		if user.Name != name || user.Avatar != picture {
			user.Name, user.Avatar = name, picture
			if err := db.Model(&user).Updates(map[string]any{"name": name, "avatar": picture}).Error; err != nil {
				return nil, s.fail("users.EnsureSystemUser", err)
			}
		}
		return &user, nil
	}
	if !notFound(err) {
		return nil, s.fail("users.EnsureSystemUser", err)
	}

	user = model.User{
		Username: "system-bot",
		Email:    "system-bot@localhost",
		Name:     name,
		Avatar:   picture,
		Role:     "system",
		IsSystem: true,
	}
	if err := db.Create(&user).Error; err != nil {
		return nil, s.fail("users.EnsureSystemUser", err)
	}
	return &user, nil
}

// HumanUserIDs lists every non system user.
func (s *Service) HumanUserIDs(ctx context.Context) ([]string, error) {
	db, cancel := s.store(ctx)
	defer cancel()

	ids := []string{}
	if err := db.Model(&model.User{}).Where("is_system = ?", false).Order("created_at").Pluck("id", &ids).Error; err != nil {
		return nil, s.fail("users.HumanUserIDs", err)
	}
	return ids, nil
}
