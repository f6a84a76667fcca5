package api

import (
	"fmt"
	"time"

	"github.com/harvestgrid/fieldgate-core/internal/registry"
	"github.com/harvestgrid/fieldgate-core/internal/status"
)

// DeviceDTO is the wire representation of a device.
type DeviceDTO struct {
	ID         string         `json:"id"`
	IP         string         `json:"ip"`
	Status     string         `json:"status"`
	LastSeen   string         `json:"lastSeen"`
	Topics     []string       `json:"topics"`
	Attributes map[string]any `json:"attributes"`
}

// TopicDTO is the wire representation of a topic.
type TopicDTO struct {
	Name        string `json:"name"`
	Messages    uint64 `json:"messages"`
	Subscribers int    `json:"subscribers"`
	Publisher   string `json:"publisher"`
	LastMessage string `json:"lastMessage"`
	LastUpdated string `json:"lastUpdated"`
}

// Snapshot is the full state sent to realtime clients on connect and
// refresh.
type Snapshot struct {
	Status  status.Broker `json:"status"`
	Devices []DeviceDTO   `json:"devices"`
	Topics  []TopicDTO    `json:"topics"`
}

func toDeviceDTO(d registry.Device, now time.Time) DeviceDTO {
	dto := DeviceDTO{
		ID:         d.ID,
		IP:         d.Address,
		Status:     string(d.ConnectionState),
		LastSeen:   formatLastSeen(d.LastSeenAt, now),
		Topics:     d.SubscribedTopics,
		Attributes: d.Attributes,
	}
	if dto.Topics == nil {
		dto.Topics = []string{}
	}
	if dto.Attributes == nil {
		dto.Attributes = map[string]any{}
	}
	return dto
}

func toTopicDTO(t registry.Topic) TopicDTO {
	return TopicDTO{
		Name:        t.Name,
		Messages:    t.MessageCount,
		Subscribers: t.SubscriberCount,
		Publisher:   t.Publisher,
		LastMessage: t.LastMessage,
		LastUpdated: t.LastUpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toDeviceDTOs(devices []registry.Device) []DeviceDTO {
	now := time.Now()
	out := make([]DeviceDTO, len(devices))
	for i, d := range devices {
		out[i] = toDeviceDTO(d, now)
	}
	return out
}

func toTopicDTOs(topics []registry.Topic) []TopicDTO {
	out := make([]TopicDTO, len(topics))
	for i, t := range topics {
		out[i] = toTopicDTO(t)
	}
	return out
}

// formatLastSeen renders the time since last contact as a coarse
// relative string, "never" when the device has not yet been heard from.
func formatLastSeen(t *time.Time, now time.Time) string {
	if t == nil {
		return "never"
	}

	seconds := int64(now.Sub(*t).Seconds())
	if seconds < 0 {
		seconds = 0
	}
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds ago", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm ago", seconds/60)
	default:
		return fmt.Sprintf("%dh ago", seconds/3600)
	}
}
