package service

import "fmt"

// MeetingProvider supplies conferencing links for a session. The join link is
// handed to the student, the start link to the teacher.
type MeetingProvider interface {
	Links(sessionID string) (joinURL, startURL string)
}

// TemplateMeetingProvider renders links from printf-style templates holding a
// single %s for the session ID. It stands in for a real conferencing API and
// keeps link creation deterministic and replayable.
type TemplateMeetingProvider struct {
	joinTemplate  string
	startTemplate string
}

// NewTemplateMeetingProvider constructs TemplateMeetingProvider.
func NewTemplateMeetingProvider(joinTemplate, startTemplate string) *TemplateMeetingProvider {
	if joinTemplate == "" {
		joinTemplate = "https://meet.lessonloop.dev/j/%s"
	}
	if startTemplate == "" {
		startTemplate = "https://meet.lessonloop.dev/s/%s"
	}
	return &TemplateMeetingProvider{joinTemplate: joinTemplate, startTemplate: startTemplate}
}

// Links renders the pair of links for one session.
func (p *TemplateMeetingProvider) Links(sessionID string) (string, string) {
	return fmt.Sprintf(p.joinTemplate, sessionID), fmt.Sprintf(p.startTemplate, sessionID)
}
