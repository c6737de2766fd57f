package validate

import "github.com/bmds-online/bmds/internal/model"

// ValidateRecommender checks recommender settings. Errors are located
// relative to the recommender object.
func ValidateRecommender(r *model.RecommenderSettings) error {
	return newError(checkRecommender(r))
}

func checkRecommender(r *model.RecommenderSettings) []FieldError {
	if r == nil {
		return nil
	}
	return checkStruct(r)
}
