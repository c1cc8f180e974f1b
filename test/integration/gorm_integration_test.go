package integration

import (
	"context"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"support-chat-be/internal/admission"
	"support-chat-be/internal/entity"
	"support-chat-be/internal/model"
	"support-chat-be/internal/pkg/logger"
	"support-chat-be/internal/repository/contract"
	"support-chat-be/internal/repository/unitofwork"
	"support-chat-be/pkg/database"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormStore(t *testing.T) {
	// Load .env from root
	if err := godotenv.Load("../../.env"); err != nil {
		log.Println("No .env file found, using system env")
	}

	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		t.Skip("Skipping integration test: DB_CONNECTION_STRING not set")
	}

	gormDB, err := database.NewGormDBFromDSN(dsn, false)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(gormDB, &model.ChatSession{}, &model.ChatMessage{}))

	ctx := context.Background()
	uow := unitofwork.NewUnitOfWork(gormDB)

	session := &entity.ChatSession{
		Id:             uuid.New(),
		UserIdentifier: "integration-" + uuid.NewString(),
		Status:         entity.SessionStatusActive,
		UserName:       "Олена",
		IntakeExtra:    map[string]string{"topic": "donation"},
		CreatedAt:      time.Now().UTC(),
	}
	defer gormDB.Where("id = ?", session.Id).Delete(&model.ChatSession{})
	defer gormDB.Where("session_id = ?", session.Id).Delete(&model.ChatMessage{})

	t.Run("Upsert and find", func(t *testing.T) {
		require.NoError(t, uow.ChatSessionRepository().Upsert(ctx, session))

		found, err := uow.ChatSessionRepository().FindByID(ctx, session.Id)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "Олена", found.UserName)
		assert.Equal(t, "donation", found.IntakeExtra["topic"])

		open, err := uow.ChatSessionRepository().FindOpenByUser(ctx, session.UserIdentifier)
		require.NoError(t, err)
		require.NotNil(t, open)
		assert.Equal(t, session.Id, open.Id)

		missing, err := uow.ChatSessionRepository().FindByID(ctx, uuid.New())
		assert.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("Append and list recent", func(t *testing.T) {
		for i := 1; i <= 5; i++ {
			require.NoError(t, uow.ChatMessageRepository().Append(ctx, &entity.ChatMessage{
				Id:         uuid.New(),
				SessionId:  session.Id,
				SenderType: entity.SenderUser,
				Text:       string(rune('a' + i - 1)),
				Seq:        int64(i),
				CreatedAt:  time.Now().UTC(),
			}))
		}

		recent, err := uow.ChatMessageRepository().ListRecent(ctx, session.Id, 3)
		require.NoError(t, err)
		require.Len(t, recent, 3)
		assert.Equal(t, []int64{3, 4, 5}, []int64{recent[0].Seq, recent[1].Seq, recent[2].Seq})

		last, err := uow.ChatMessageRepository().LastSeq(ctx, session.Id)
		require.NoError(t, err)
		assert.Equal(t, int64(5), last)

		dup := &entity.ChatMessage{Id: uuid.New(), SessionId: session.Id, SenderType: entity.SenderUser, Text: "dup", Seq: 5, CreatedAt: time.Now()}
		assert.ErrorIs(t, uow.ChatMessageRepository().Append(ctx, dup), contract.ErrDuplicateSeq)
	})
}

func TestAdmissionAcrossInstances(t *testing.T) {
	if err := godotenv.Load("../../.env"); err != nil {
		log.Println("No .env file found, using system env")
	}

	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		t.Skip("Skipping integration test: DB_CONNECTION_STRING not set")
	}

	gormDB, err := database.NewGormDBFromDSN(dsn, false)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(gormDB, &model.ChatSession{}, &model.ChatMessage{}))

	ctx := context.Background()
	uow := unitofwork.NewUnitOfWork(gormDB)
	active, err := uow.ChatSessionRepository().CountByStatus(ctx, entity.SessionStatusActive)
	require.NoError(t, err)
	capacity := int(active) + 1

	// Two controllers over one database stand in for two replicas.
	replicas := []*admission.Controller{
		admission.NewController(unitofwork.NewUnitOfWork(gormDB), capacity, nil, logger.NewNopLogger()),
		admission.NewController(unitofwork.NewUnitOfWork(gormDB), capacity, nil, logger.NewNopLogger()),
	}

	ids := []uuid.UUID{uuid.New(), uuid.New()}
	defer gormDB.Where("id IN ?", ids).Delete(&model.ChatSession{})

	var wg sync.WaitGroup
	results := make([]*entity.ChatSession, len(ids))
	errs := make([]error, len(ids))
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = replicas[i].Admit(ctx, &entity.ChatSession{
				Id:             ids[i],
				UserIdentifier: "replica-" + uuid.NewString(),
				CreatedAt:      time.Now().UTC(),
			})
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	statuses := []entity.SessionStatus{results[0].Status, results[1].Status}
	assert.ElementsMatch(t, []entity.SessionStatus{entity.SessionStatusActive, entity.SessionStatusQueued}, statuses)
}
