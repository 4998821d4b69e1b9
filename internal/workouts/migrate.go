package workouts

const legacySchemaVersion = "1.0"

type upgradeDefinition struct {
	name  string
	from  string
	to    string
	apply func(*Document)
}

var documentUpgrades = []upgradeDefinition{
	{
		name:  "2026-10-01_backfill_exercise_references",
		from:  legacySchemaVersion,
		to:    SchemaVersion,
		apply: backfillExerciseReferences,
	},
}

// upgradeDocument walks the ordered upgrade chain starting at the document's
// version and returns the names of the upgrades applied. Documents written by
// a newer schema are left untouched.
func upgradeDocument(document *Document) []string {
	if document.Version == "" {
		document.Version = legacySchemaVersion
	}
	var applied []string
	for _, upgrade := range documentUpgrades {
		if document.Version != upgrade.from {
			continue
		}
		upgrade.apply(document)
		document.Version = upgrade.to
		applied = append(applied, upgrade.name)
	}
	return applied
}

// backfillExerciseReferences fills the owning references and display
// indexes that legacy clients left empty. Orders are re-derived from list
// position only for sibling lists that carry no order at all.
func backfillExerciseReferences(document *Document) {
	for id, workout := range document.Workouts {
		exercisesUnordered := len(workout.Exercises) > 1
		for _, exercise := range workout.Exercises {
			if exercise.Order != 0 {
				exercisesUnordered = false
				break
			}
		}
		for exerciseIndex := range workout.Exercises {
			exercise := &workout.Exercises[exerciseIndex]
			if exercise.WorkoutID == "" {
				exercise.WorkoutID = id
			}
			if exercisesUnordered {
				exercise.Order = exerciseIndex
			}
			setsUnordered := len(exercise.Sets) > 1
			for _, set := range exercise.Sets {
				if set.Order != 0 {
					setsUnordered = false
					break
				}
			}
			for setIndex := range exercise.Sets {
				set := &exercise.Sets[setIndex]
				if set.ExerciseID == "" {
					set.ExerciseID = exercise.ID
				}
				if set.SetNumber <= 0 {
					set.SetNumber = setIndex + 1
				}
				if setsUnordered {
					set.Order = setIndex
				}
			}
		}
		document.Workouts[id] = workout
	}
}
