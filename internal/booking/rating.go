package booking

import (
	"strings"

	"golang.org/x/exp/slices"

	"mzigo/internal/wizard"
)

// FeedbackTags are the quick tags offered on the rating screen.
var FeedbackTags = []string{
	"Professional",
	"On Time",
	"Careful Handling",
	"Good Communication",
	"Clean Vehicle",
	"Friendly",
	"Safe Driving",
	"Helpful",
}

const (
	FieldRating  = "rating"
	FieldTags    = "tags"
	FieldComment = "comment"
)

// Rating is the customer's feedback on a delivered order.
type Rating struct {
	Stars   int      `json:"stars"`
	Tags    []string `json:"tags,omitempty"`
	Comment string   `json:"comment,omitempty"`
}

// RatingFlow returns the single step rating form. Tags are given as a comma
// separated list.
func RatingFlow() wizard.Flow[Rating] {
	return wizard.Flow[Rating]{
		Name: "rating",
		Steps: []wizard.Step{
			{
				Name: "rating",
				Fields: []wizard.Field{
					{Name: FieldRating, Kind: wizard.KindNumber, Required: true},
					{Name: FieldTags, Kind: wizard.KindText},
					{Name: FieldComment, Kind: wizard.KindText},
				},
				Check: checkRating,
			},
		},
		Build: func(p wizard.Payload) (Rating, error) {
			stars, _ := p.Number(FieldRating)
			return Rating{
				Stars:   int(stars),
				Tags:    splitTags(p.String(FieldTags)),
				Comment: p.String(FieldComment),
			}, nil
		},
	}
}

// NewRatingWizard returns a controller for a rating form.
func NewRatingWizard() (*wizard.Controller[Rating], error) {
	return wizard.New(RatingFlow())
}

func checkRating(p wizard.Payload) []string {
	var bad []string
	stars, _ := p.Number(FieldRating)
	if stars != float64(int(stars)) || stars < 1 || stars > 5 {
		bad = append(bad, FieldRating)
	}
	for _, tag := range splitTags(p.String(FieldTags)) {
		if !slices.Contains(FeedbackTags, tag) {
			bad = append(bad, FieldTags)
			break
		}
	}
	return bad
}

func splitTags(raw string) []string {
	var tags []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" && !slices.Contains(tags, part) {
			tags = append(tags, part)
		}
	}
	return tags
}
