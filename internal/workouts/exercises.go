package workouts

import "fmt"

// AddExercise appends an exercise to the workout.
func (r *Repository) AddExercise(workoutID string, input ExerciseInput) (Workout, error) {
	return r.mutate(opAddExercise, workoutID, func(workout *Workout) error {
		order := len(workout.Exercises)
		if input.Order != nil {
			order = *input.Order
		}
		exercise := Exercise{
			Name:  input.Name,
			Sets:  append([]Set(nil), input.Sets...),
			Notes: input.Notes,
			Order: order,
		}
		exercises := append(workout.Exercises, exercise)
		normalized, err := r.normalizeExercises(workout.ID, exercises)
		if err != nil {
			return err
		}
		workout.Exercises = normalized
		return nil
	})
}

// ReorderExercises rewrites each exercise's order to its position in
// exerciseIDs. Every exercise of the workout must be listed exactly once.
func (r *Repository) ReorderExercises(workoutID string, exerciseIDs []string) (Workout, error) {
	return r.mutate(opReorderExercises, workoutID, func(workout *Workout) error {
		if len(exerciseIDs) != len(workout.Exercises) {
			return fmt.Errorf("%w: reorder lists %d of %d exercises", ErrInvalidWorkout, len(exerciseIDs), len(workout.Exercises))
		}
		positions := make(map[string]int, len(exerciseIDs))
		for position, id := range exerciseIDs {
			if _, duplicate := positions[id]; duplicate {
				return fmt.Errorf("%w: exercise %s listed twice", ErrInvalidWorkout, id)
			}
			positions[id] = position
		}
		reordered := make([]Exercise, len(workout.Exercises))
		for _, exercise := range workout.Exercises {
			position, ok := positions[exercise.ID]
			if !ok {
				return fmt.Errorf("%w: %s", ErrExerciseNotFound, exercise.ID)
			}
			exercise.Order = position
			reordered[position] = exercise
		}
		workout.Exercises = reordered
		return nil
	})
}

// AddSet appends a set to an exercise of the workout.
func (r *Repository) AddSet(workoutID, exerciseID string, input SetInput) (Workout, error) {
	return r.mutate(opAddSet, workoutID, func(workout *Workout) error {
		exercise, err := findExercise(workout, exerciseID)
		if err != nil {
			return err
		}
		setID, err := r.newID()
		if err != nil {
			return err
		}
		set := Set{
			ID:         setID,
			ExerciseID: exercise.ID,
			SetNumber:  input.SetNumber,
			Reps:       input.Reps,
			Weight:     input.Weight,
			Completed:  true,
			Order:      len(exercise.Sets),
		}
		if set.SetNumber <= 0 {
			set.SetNumber = len(exercise.Sets) + 1
		}
		if input.Completed != nil {
			set.Completed = *input.Completed
		}
		if input.Order != nil {
			set.Order = *input.Order
		}
		exercise.Sets = append(exercise.Sets, set)
		return nil
	})
}

// UpdateSet merges patch into a set.
func (r *Repository) UpdateSet(workoutID, exerciseID, setID string, patch SetPatch) (Workout, error) {
	return r.mutate(opUpdateSet, workoutID, func(workout *Workout) error {
		exercise, err := findExercise(workout, exerciseID)
		if err != nil {
			return err
		}
		for index := range exercise.Sets {
			set := &exercise.Sets[index]
			if set.ID != setID {
				continue
			}
			if patch.Reps != nil {
				set.Reps = *patch.Reps
			}
			if patch.Weight != nil {
				set.Weight = *patch.Weight
			}
			if patch.Completed != nil {
				set.Completed = *patch.Completed
			}
			return nil
		}
		return fmt.Errorf("%w: %s", ErrSetNotFound, setID)
	})
}

// RemoveSet drops a set and renumbers the remaining ones.
func (r *Repository) RemoveSet(workoutID, exerciseID, setID string) (Workout, error) {
	return r.mutate(opRemoveSet, workoutID, func(workout *Workout) error {
		exercise, err := findExercise(workout, exerciseID)
		if err != nil {
			return err
		}
		remaining := make([]Set, 0, len(exercise.Sets))
		for _, set := range exercise.Sets {
			if set.ID == setID {
				continue
			}
			remaining = append(remaining, set)
		}
		if len(remaining) == len(exercise.Sets) {
			return fmt.Errorf("%w: %s", ErrSetNotFound, setID)
		}
		for index := range remaining {
			remaining[index].SetNumber = index + 1
			remaining[index].Order = index
		}
		exercise.Sets = remaining
		return nil
	})
}

func findExercise(workout *Workout, exerciseID string) (*Exercise, error) {
	for index := range workout.Exercises {
		if workout.Exercises[index].ID == exerciseID {
			return &workout.Exercises[index], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrExerciseNotFound, exerciseID)
}
