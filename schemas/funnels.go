package schemas

import "time"

type Step string

const (
	StepIntake     Step = "intake"
	StepIntroVideo Step = "intro-video"
	StepChoice     Step = "choice"
	StepPathVideo  Step = "path-video"
	StepFeedback   Step = "feedback"
	StepDone       Step = "done"
)

func (s Step) IsVideo() bool {
	return s == StepIntroVideo || s == StepPathVideo
}

type Completion struct {
	Title      string `json:"title"`
	Subtitle   string `json:"subtitle,omitempty"`
	BookingURL string `json:"booking_url"`
}

type FunnelSnapshot struct {
	ID         string      `json:"id"`
	Step       Step        `json:"step"`
	Lead       Lead        `json:"lead"`
	Completion *Completion `json:"completion,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}
