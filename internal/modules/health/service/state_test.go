package service

import (
	"errors"
	"testing"
	"time"

	"trade_ledger/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestRecordPass(t *testing.T) {
	s := NewState()
	assert.False(t, s.Ready())

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.RecordPass(models.PassResult{StartedAt: at}, errors.New("list okx positions: timeout"), false)
	s.RecordPass(models.PassResult{StartedAt: at.Add(time.Minute)}, errors.New("again"), true)

	st := s.Pass()
	assert.False(t, s.Ready())
	assert.Equal(t, 2, st.ConsecutiveFailures)
	assert.Equal(t, "again", st.LastError)
	assert.True(t, st.AuthFailed)
	assert.True(t, st.LastSuccessAt.IsZero())

	s.RecordPass(models.PassResult{
		StartedAt: at.Add(2 * time.Minute),
		Created:   []string{"okx:1"},
		Closed:    []string{"okx:2", "okx:3"},
		Errors:    []models.PositionError{{Exchange: "okx", PositionID: "4", Stage: "fills", Err: "boom"}},
	}, nil, false)

	st = s.Pass()
	assert.True(t, s.Ready())
	assert.Zero(t, st.ConsecutiveFailures)
	assert.Equal(t, 1, st.Created)
	assert.Equal(t, 2, st.Closed)
	assert.Equal(t, 1, st.PositionErrors)
	assert.Equal(t, "boom", st.LastError)
	assert.Equal(t, at.Add(2*time.Minute), st.LastSuccessAt)
	assert.False(t, st.AuthFailed)
}
