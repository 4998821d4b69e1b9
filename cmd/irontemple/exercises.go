package main

import (
	"github.com/MarcoPoloResearchLab/irontemple/internal/workouts"
	"github.com/spf13/cobra"
)

func newExerciseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exercise",
		Short: "Edit the exercises of a workout",
	}

	var notes string
	add := &cobra.Command{
		Use:   "add WORKOUT_ID NAME",
		Short: "Append an exercise",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := workoutIDArg(args)
			if err != nil {
				return err
			}
			updated, err := a.repository.AddExercise(id, workouts.ExerciseInput{Name: args[1], Notes: notes})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), updated)
		}),
	}
	add.Flags().StringVar(&notes, "notes", "", "Exercise notes")

	reorder := &cobra.Command{
		Use:   "reorder WORKOUT_ID EXERCISE_ID...",
		Short: "Reorder exercises; every exercise must be listed once",
		Args:  cobra.MinimumNArgs(2),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := workoutIDArg(args)
			if err != nil {
				return err
			}
			updated, err := a.repository.ReorderExercises(id, args[1:])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), updated)
		}),
	}

	cmd.AddCommand(add, reorder)
	return cmd
}

func newSetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Edit the sets of an exercise",
	}

	var (
		reps      int
		weight    float64
		completed bool
	)
	add := &cobra.Command{
		Use:   "add WORKOUT_ID EXERCISE_ID",
		Short: "Append a set",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := workoutIDArg(args)
			if err != nil {
				return err
			}
			input := workouts.SetInput{Reps: reps, Weight: weight}
			if cmd.Flags().Changed("completed") {
				input.Completed = &completed
			}
			updated, err := a.repository.AddSet(id, args[1], input)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), updated)
		}),
	}
	add.Flags().IntVar(&reps, "reps", 0, "Repetitions")
	add.Flags().Float64Var(&weight, "weight", 0, "Weight")
	add.Flags().BoolVar(&completed, "completed", true, "Whether the set was completed")

	var (
		updateReps      int
		updateWeight    float64
		updateCompleted bool
	)
	update := &cobra.Command{
		Use:   "update WORKOUT_ID EXERCISE_ID SET_ID",
		Short: "Change reps, weight or completion of a set",
		Args:  cobra.ExactArgs(3),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := workoutIDArg(args)
			if err != nil {
				return err
			}
			patch := workouts.SetPatch{}
			if cmd.Flags().Changed("reps") {
				patch.Reps = &updateReps
			}
			if cmd.Flags().Changed("weight") {
				patch.Weight = &updateWeight
			}
			if cmd.Flags().Changed("completed") {
				patch.Completed = &updateCompleted
			}
			updated, err := a.repository.UpdateSet(id, args[1], args[2], patch)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), updated)
		}),
	}
	update.Flags().IntVar(&updateReps, "reps", 0, "Repetitions")
	update.Flags().Float64Var(&updateWeight, "weight", 0, "Weight")
	update.Flags().BoolVar(&updateCompleted, "completed", true, "Whether the set was completed")

	remove := &cobra.Command{
		Use:   "remove WORKOUT_ID EXERCISE_ID SET_ID",
		Short: "Remove a set and renumber the rest",
		Args:  cobra.ExactArgs(3),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := workoutIDArg(args)
			if err != nil {
				return err
			}
			updated, err := a.repository.RemoveSet(id, args[1], args[2])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), updated)
		}),
	}

	cmd.AddCommand(add, update, remove)
	return cmd
}
