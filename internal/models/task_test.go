package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDossierTaskApplyStatus(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	earlier := now.Add(-48 * time.Hour)

	t.Run("start stamps date_debut once", func(t *testing.T) {
		task := &DossierTask{Statut: TaskEnAttente}
		task.ApplyStatus(TaskEnCours, now)
		require.Equal(t, now, *task.DateDebut)

		task = &DossierTask{Statut: TaskEnAttente, DateDebut: &earlier}
		task.ApplyStatus(TaskEnCours, now)
		require.Equal(t, earlier, *task.DateDebut)
	})

	t.Run("finish stamps date_fin unless already done", func(t *testing.T) {
		task := &DossierTask{Statut: TaskEnCours}
		task.ApplyStatus(TaskTerminee, now)
		require.Equal(t, now, *task.DateFin)

		task = &DossierTask{Statut: TaskTerminee, DateFin: &earlier}
		task.ApplyStatus(TaskValidee, now)
		require.Equal(t, earlier, *task.DateFin)
		require.Equal(t, TaskValidee, task.Statut)
	})

	t.Run("reset clears both dates", func(t *testing.T) {
		task := &DossierTask{Statut: TaskTerminee, DateDebut: &earlier, DateFin: &now}
		task.ApplyStatus(TaskEnAttente, now)
		require.Nil(t, task.DateDebut)
		require.Nil(t, task.DateFin)
	})
}

func TestCompletionPercent(t *testing.T) {
	require.Equal(t, 0.0, CompletionPercent(0, 0))
	require.Equal(t, 33.33, CompletionPercent(1, 3))
	require.Equal(t, 66.67, CompletionPercent(2, 3))
	require.Equal(t, 100.0, CompletionPercent(4, 4))
}

func TestAssignmentDuration(t *testing.T) {
	assigned := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	require.Nil(t, AssignmentDuration(TaskAssignment{AssignedAt: assigned}))

	done := assigned.Add(26 * time.Hour)
	d := AssignmentDuration(TaskAssignment{AssignedAt: assigned, CompletedAt: &done})
	require.Equal(t, 26*time.Hour, *d)
}

func TestDaysUntil(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	require.Equal(t, 1, DaysUntil(now.Add(12*time.Hour), now))
	require.Equal(t, 3, DaysUntil(now.Add(72*time.Hour), now))
	require.Equal(t, 0, DaysUntil(now, now))
	require.Equal(t, -2, DaysUntil(now.Add(-50*time.Hour), now))
}
