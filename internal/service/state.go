package service

import (
	"context"
	"time"

	"cityshift/internal/models"
	"cityshift/internal/repository"

	"github.com/rs/zerolog"
)

type StateService struct {
	stateRepo repository.StateRepository
	logger    *zerolog.Logger
}

func NewStateService(stateRepo repository.StateRepository, logger *zerolog.Logger) *StateService {
	return &StateService{
		stateRepo: stateRepo,
		logger:    logger,
	}
}

// GetUserState never returns nil on success; a chat without state is StepNone.
func (s *StateService) GetUserState(ctx context.Context, userID int64) (*models.UserState, error) {
	state, err := s.stateRepo.GetState(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("Error getting user state")
		return nil, err
	}
	if state == nil {
		state = &models.UserState{UserID: userID, Step: models.StepNone}
	}
	return state, nil
}

func (s *StateService) SetUserState(ctx context.Context, userID int64, step models.Step, draft models.RegistrationDraft) error {
	state := &models.UserState{
		UserID: userID,
		Step:   step,
		Draft:  draft,
	}
	return s.stateRepo.SetState(ctx, state)
}

func (s *StateService) ClearUserState(ctx context.Context, userID int64) error {
	return s.stateRepo.ClearState(ctx, userID)
}

func (s *StateService) CheckRateLimit(ctx context.Context, userID int64, limit int, window time.Duration) (bool, error) {
	return s.stateRepo.CheckRateLimit(ctx, userID, limit, window)
}
