package broadcast

import (
	"fmt"
	"strings"
)

// TopicAll is the reserved wildcard topic. Its subscribers receive every broadcast.
const TopicAll = "ALL"

// NormalizeTopic convert a route or ferry name into its canonical topic key.
// Upper-cased, spaces replaced with dashes. Idempotent.
func NormalizeTopic(raw string) string {
	trimmed := strings.TrimSpace(raw)
	return strings.ReplaceAll(strings.ToUpper(trimmed), " ", "-")
}

// NormalizeTopics normalize a list of route names, dropping empties
func NormalizeTopics(raw []string) []string {
	result := make([]string, 0, len(raw))
	for _, entry := range raw {
		normalized := NormalizeTopic(entry)
		if normalized != "" {
			result = append(result, normalized)
		}
	}
	return result
}

// ChannelName compute the bus subject carrying one topic's availability events
func ChannelName(prefix, topic string) string {
	return fmt.Sprintf("%s.%s", prefix, NormalizeTopic(topic))
}

// ChannelPattern compute the bus subject wildcard covering all availability channels
func ChannelPattern(prefix string) string {
	return fmt.Sprintf("%s.>", prefix)
}

// TopicFromChannel recover the topic key from a bus subject
func TopicFromChannel(prefix, channel string) (string, error) {
	lead := prefix + "."
	if !strings.HasPrefix(channel, lead) || len(channel) == len(lead) {
		return "", fmt.Errorf("channel '%s' not under prefix '%s'", channel, prefix)
	}
	return strings.TrimPrefix(channel, lead), nil
}
