package workouts

import (
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/irontemple/internal/outbox"
	"github.com/MarcoPoloResearchLab/irontemple/internal/store"
)

func TestCreateThenGetByIDRoundTrips(t *testing.T) {
	fixture := newRepositoryFixture(t, "user-1")
	date := time.Date(2026, 10, 12, 18, 0, 0, 0, time.UTC)
	input := Input{
		Name:            "Push Day",
		Date:            date,
		Notes:           "felt strong",
		DurationMinutes: 55,
		Exercises: []Exercise{{
			Name: "Bench Press",
			Sets: []Set{completedSet(8, 80)},
		}},
	}

	created := mustCreate(t, fixture.repository, input)
	loaded, err := fixture.repository.GetByID(created.ID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if loaded.Name != input.Name || !loaded.Date.Equal(date) || loaded.Notes != input.Notes || loaded.DurationMinutes != 55 {
		t.Fatalf("mutable fields did not round trip: %#v", loaded)
	}
	if loaded.SyncStatus != SyncStatusPending {
		t.Fatalf("expected pending status, got %s", loaded.SyncStatus)
	}
	if loaded.OwnerID != "user-1" {
		t.Fatalf("expected owner user-1, got %s", loaded.OwnerID)
	}
	if len(loaded.Exercises) != 1 || loaded.Exercises[0].WorkoutID != created.ID {
		t.Fatalf("expected exercise to reference workout, got %#v", loaded.Exercises)
	}
	set := loaded.Exercises[0].Sets[0]
	if set.ID == "" || set.ExerciseID != loaded.Exercises[0].ID || set.SetNumber != 1 {
		t.Fatalf("expected normalized set, got %#v", set)
	}

	document := fixture.transactor.Load()
	entry, ok := document.SyncQueue.Find(created.ID)
	if !ok || entry.Action != outbox.ActionCreate {
		t.Fatalf("expected queued create, got %#v", document.SyncQueue)
	}
	if fixture.publisher.Count() != 1 {
		t.Fatalf("expected one records-changed event, got %d", fixture.publisher.Count())
	}
}

func TestCreateAppliesDefaults(t *testing.T) {
	fixture := newRepositoryFixture(t, "guest_1")
	created := mustCreate(t, fixture.repository, Input{})
	if created.Name != defaultWorkoutName {
		t.Fatalf("expected default name, got %q", created.Name)
	}
	if !created.Date.Equal(fixture.clock.Now()) {
		t.Fatalf("expected date to default to now, got %s", created.Date)
	}
	if created.Exercises == nil {
		t.Fatalf("expected empty exercise list, got nil")
	}
}

func TestCreateRequiresIdentity(t *testing.T) {
	fixture := newRepositoryFixture(t, "")
	_, err := fixture.repository.Create(Input{Name: "Legs"})
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected not authenticated, got %v", err)
	}
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "workouts.create.not_authenticated" {
		t.Fatalf("unexpected service error: %v", err)
	}
	if len(fixture.transactor.Load().Workouts) != 0 {
		t.Fatalf("expected nothing stored")
	}
}

func TestCreateRejectsInvalidSets(t *testing.T) {
	fixture := newRepositoryFixture(t, "user-1")
	_, err := fixture.repository.Create(Input{
		Exercises: []Exercise{{Name: "Row", Sets: []Set{{Reps: 0, Weight: 10}}}},
	})
	if !errors.Is(err, ErrInvalidWorkout) {
		t.Fatalf("expected invalid workout, got %v", err)
	}
	_, err = fixture.repository.Create(Input{
		Exercises: []Exercise{{Name: "Row", Sets: []Set{{Reps: 5, Weight: -1}}}},
	})
	if !errors.Is(err, ErrInvalidWorkout) {
		t.Fatalf("expected invalid workout for negative weight, got %v", err)
	}
}

func TestCreateSurfacesStorageWriteFailure(t *testing.T) {
	fixture := newRepositoryFixture(t, "user-1")
	fixture.backend.reject = true

	_, err := fixture.repository.Create(Input{Name: "Legs"})
	if !errors.Is(err, store.ErrStorageWriteFailed) {
		t.Fatalf("expected storage write failure, got %v", err)
	}
	if fixture.publisher.Count() != 0 {
		t.Fatalf("expected no event for a failed write")
	}
}

func TestUpdateKeepsPendingCreateAndRefreshesPayload(t *testing.T) {
	fixture := newRepositoryFixture(t, "user-1")
	created := mustCreate(t, fixture.repository, Input{Name: "Draft"})
	fixture.clock.Advance(time.Minute)

	name := "Final"
	updated, err := fixture.repository.Update(created.ID, Patch{Name: &name})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if updated.Name != "Final" || !updated.UpdatedAt.After(created.UpdatedAt) {
		t.Fatalf("expected merged name and bumped updatedAt, got %#v", updated)
	}

	document := fixture.transactor.Load()
	if len(document.SyncQueue) != 1 {
		t.Fatalf("expected a single queued entry, got %d", len(document.SyncQueue))
	}
	entry := document.SyncQueue[0]
	if entry.Action != outbox.ActionCreate {
		t.Fatalf("expected action to stay create, got %s", entry.Action)
	}
	if !entry.EnqueuedAt.Equal(fixture.clock.Now()) {
		t.Fatalf("expected entry timestamp to refresh")
	}
	if document.Workouts[created.ID].Name != "Final" {
		t.Fatalf("expected stored payload to carry the latest data")
	}
}

func TestUpdateAfterSyncQueuesUpdate(t *testing.T) {
	fixture := newRepositoryFixture(t, "user-1")
	created := mustCreate(t, fixture.repository, Input{Name: "Draft"})
	err := fixture.transactor.WithStorage(func(document *Document) error {
		workout := document.Workouts[created.ID]
		workout.SyncStatus = SyncStatusSynced
		document.Workouts[created.ID] = workout
		document.SyncQueue.Remove(created.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected storage error: %v", err)
	}

	duration := 30
	updated, err := fixture.repository.Update(created.ID, Patch{DurationMinutes: &duration})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if updated.SyncStatus != SyncStatusPending {
		t.Fatalf("expected status to revert to pending, got %s", updated.SyncStatus)
	}
	entry, ok := fixture.transactor.Load().SyncQueue.Find(created.ID)
	if !ok || entry.Action != outbox.ActionUpdate {
		t.Fatalf("expected queued update, got %#v", entry)
	}
}

func TestUpdateMissingWorkoutReturnsNotFound(t *testing.T) {
	fixture := newRepositoryFixture(t, "user-1")
	name := "x"
	_, err := fixture.repository.Update("missing", Patch{Name: &name})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSoftDeleteTwiceFailsWithNotFound(t *testing.T) {
	fixture := newRepositoryFixture(t, "user-1")
	created := mustCreate(t, fixture.repository, Input{Name: "Legs"})

	if err := fixture.repository.SoftDelete(created.ID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if err := fixture.repository.SoftDelete(created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected second delete to fail with not found, got %v", err)
	}
	if _, err := fixture.repository.GetByID(created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted workout to be hidden, got %v", err)
	}
	if len(fixture.repository.ListAll()) != 0 {
		t.Fatalf("expected deleted workout to be excluded from listings")
	}

	document := fixture.transactor.Load()
	stored, ok := document.Workouts[created.ID]
	if !ok || !stored.Deleted || stored.DeletedAt == nil {
		t.Fatalf("expected soft-deleted record to stay stored, got %#v", stored)
	}
	entry, _ := document.SyncQueue.Find(created.ID)
	if entry.Action != outbox.ActionDelete || len(document.SyncQueue) != 1 {
		t.Fatalf("expected delete to replace the create, got %#v", document.SyncQueue)
	}
}

func TestQueueHoldsOneEntryPerWorkoutAcrossMutations(t *testing.T) {
	fixture := newRepositoryFixture(t, "user-1")
	created := mustCreate(t, fixture.repository, Input{Name: "A"})
	for index := 0; index < 5; index++ {
		notes := time.Duration(index).String()
		if _, err := fixture.repository.Update(created.ID, Patch{Notes: &notes}); err != nil {
			t.Fatalf("unexpected update error: %v", err)
		}
		entries := 0
		for _, entry := range fixture.transactor.Load().SyncQueue {
			if entry.RecordID == created.ID {
				entries++
			}
		}
		if entries != 1 {
			t.Fatalf("expected one entry after update %d, got %d", index, entries)
		}
	}
	if err := fixture.repository.SoftDelete(created.ID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if queue := fixture.transactor.Load().SyncQueue; len(queue) != 1 {
		t.Fatalf("expected one entry after delete, got %d", len(queue))
	}
}

func TestListingsSortAndFilter(t *testing.T) {
	fixture := newRepositoryFixture(t, "user-1")
	day := func(d int) time.Time { return time.Date(2026, 10, d, 7, 0, 0, 0, time.UTC) }
	mustCreate(t, fixture.repository, Input{Name: "oldest", Date: day(1)})
	mustCreate(t, fixture.repository, Input{Name: "newest", Date: day(12)})
	mustCreate(t, fixture.repository, Input{Name: "middle", Date: day(6)})

	all := fixture.repository.ListAll()
	if len(all) != 3 || all[0].Name != "newest" || all[2].Name != "oldest" {
		t.Fatalf("expected date descending order, got %v", names(all))
	}

	recent := fixture.repository.ListRecent(2)
	if len(recent) != 2 || recent[1].Name != "middle" {
		t.Fatalf("unexpected recent workouts: %v", names(recent))
	}
	if len(fixture.repository.ListRecent(10)) != 3 {
		t.Fatalf("expected limit above count to return all")
	}

	ranged := fixture.repository.ListByDateRange(day(1), day(6))
	if len(ranged) != 2 || ranged[0].Name != "middle" || ranged[1].Name != "oldest" {
		t.Fatalf("expected inclusive range, got %v", names(ranged))
	}
}

func TestAggregateStatsCountsCompletedVolume(t *testing.T) {
	fixture := newRepositoryFixture(t, "user-1")
	mustCreate(t, fixture.repository, Input{
		Name: "Squat",
		Date: fixture.clock.Now().Add(-24 * time.Hour),
		Exercises: []Exercise{{
			Name: "Back Squat",
			Sets: []Set{
				{Reps: 10, Weight: 100, Completed: true},
				{Reps: 5, Weight: 50, Completed: false},
			},
		}},
	})
	mustCreate(t, fixture.repository, Input{Name: "Old", Date: fixture.clock.Now().Add(-10 * 24 * time.Hour)})

	stats := fixture.repository.AggregateStats()
	if stats.TotalVolume != 1000 {
		t.Fatalf("expected volume 1000, got %v", stats.TotalVolume)
	}
	if stats.TotalWorkouts != 2 || stats.WorkoutsThisWeek != 1 {
		t.Fatalf("unexpected counts: %#v", stats)
	}
	if stats.AverageWorkoutsPerWeek != 0.5 {
		t.Fatalf("expected average 0.5 over four weeks, got %v", stats.AverageWorkoutsPerWeek)
	}
}

func TestNewRepositoryValidatesDependencies(t *testing.T) {
	if _, err := NewRepository(RepositoryConfig{}); err == nil {
		t.Fatalf("expected missing transactor error")
	}
	if _, err := NewTransactor(TransactorConfig{}); err == nil {
		t.Fatalf("expected missing store error")
	}
}

func names(workouts []Workout) []string {
	result := make([]string, 0, len(workouts))
	for _, workout := range workouts {
		result = append(result, workout.Name)
	}
	return result
}

func TestServiceErrorReasons(t *testing.T) {
	fixture := newRepositoryFixture(t, "user-1")
	created := mustCreate(t, fixture.repository, Input{Name: "Legs", Exercises: []Exercise{{Name: "Squat"}}})

	fixture.ids.mu.Lock()
	fixture.ids.err = errors.New("entropy unavailable")
	fixture.ids.mu.Unlock()

	testCases := []struct {
		name string
		run  func() error
		code string
	}{
		{
			name: "create id failure",
			run: func() error {
				_, err := fixture.repository.Create(Input{Name: "Push"})
				return err
			},
			code: "workouts.create.id_generation_failed",
		},
		{
			name: "set id failure",
			run: func() error {
				_, err := fixture.repository.AddSet(created.ID, created.Exercises[0].ID, SetInput{Reps: 5})
				return err
			},
			code: "workouts.add_set.id_generation_failed",
		},
		{
			name: "unclassified failure",
			run: func() error {
				return fixture.repository.classify(opUpdate, created.ID, errors.New("unexpected"))
			},
			code: "workouts.update.mutation_failed",
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			var serviceErr *ServiceError
			if err := testCase.run(); !errors.As(err, &serviceErr) || serviceErr.Code() != testCase.code {
				t.Fatalf("expected code %s, got %v", testCase.code, err)
			}
		})
	}
}
