package checkpoint

import (
	"encoding/json"

	"github.com/gradingco/gradingd/pkg/models"
)

func marshalState(s *models.GradingState) ([]byte, error) {
	return json.Marshal(s)
}

func unmarshalState(data []byte) (*models.GradingState, error) {
	var s models.GradingState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
