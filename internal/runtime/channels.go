package runtime

import (
	"fmt"
	"sort"

	loggingpkg "github.com/drblury/commitguard/internal/runtime/logging"
)

// ChannelReport lists the external channels the service talks to.
type ChannelReport struct {
	CacheHost string
	RESTAPI   string
	Consumes  []ConsumedChannel
	Produces  []string
}

// ConsumedChannel is a topic consumed with a consumer group.
type ConsumedChannel struct {
	Topic string
	Group string
}

// Channels collects the configured channels. Bindings with a consumer group
// and registered handlers count as consumed; all other bindings as produced.
func (s *Service) Channels() ChannelReport {
	report := ChannelReport{
		CacheHost: s.Conf.RedisAddr,
		RESTAPI:   s.Conf.HTTPPublisherURL,
	}

	consumed := make(map[string]ConsumedChannel)
	for binding, group := range s.Conf.ConsumeBindings {
		if group == "" {
			continue
		}
		consumed[binding] = ConsumedChannel{Topic: s.Conf.Destination(binding), Group: group}
	}
	for _, h := range s.Handlers() {
		consumed[h.ConsumeBinding] = ConsumedChannel{Topic: h.Topic, Group: h.Group}
	}

	bindings := make([]string, 0, len(s.Conf.Bindings)+len(consumed))
	for binding := range s.Conf.Bindings {
		bindings = append(bindings, binding)
	}
	for binding := range consumed {
		if _, ok := s.Conf.Bindings[binding]; !ok {
			bindings = append(bindings, binding)
		}
	}
	sort.Strings(bindings)

	for _, binding := range bindings {
		if ch, ok := consumed[binding]; ok {
			report.Consumes = append(report.Consumes, ch)
			continue
		}
		report.Produces = append(report.Produces, s.Conf.Destination(binding))
	}
	return report
}

// LogChannels logs the channel report, one line per channel.
func (s *Service) LogChannels() {
	report := s.Channels()
	if report.CacheHost != "" {
		s.Logger.Info(fmt.Sprintf("App uses cache host: %s", report.CacheHost), nil)
	}
	if report.RESTAPI != "" {
		s.Logger.Info(fmt.Sprintf("App uses REST api: %s", report.RESTAPI), nil)
	}
	for _, ch := range report.Consumes {
		s.Logger.Info(fmt.Sprintf("App consumes message topic %s with group %s", ch.Topic, ch.Group), loggingpkg.LogFields{
			"topic": ch.Topic,
			"group": ch.Group,
		})
	}
	for _, topic := range report.Produces {
		s.Logger.Info(fmt.Sprintf("App produces message topic %s", topic), loggingpkg.LogFields{
			"topic": topic,
		})
	}
}
