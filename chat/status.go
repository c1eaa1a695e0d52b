package chat

import "dmchat/models"

// InitialStatus picks the status of a new message from the receiver's presence.
func InitialStatus(receiverOnline bool) models.DeliveryStatus {
	if receiverOnline {
		return models.StatusDelivered
	}
	return models.StatusSent
}

// CanAdvance reports whether a message may move from one status to another.
// Only forward moves are legal; read is terminal.
func CanAdvance(from, to models.DeliveryStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	return to.Rank() > from.Rank()
}

// shouldMarkRead reports whether opening the thread as viewerID advances m to read.
func shouldMarkRead(m models.Message, viewerID string) bool {
	return m.ReceiverID == viewerID && CanAdvance(m.Status, models.StatusRead)
}

// shouldMarkDelivered reports whether loading viewerID's inbox advances m to delivered.
func shouldMarkDelivered(m models.Message, viewerID string) bool {
	return m.ReceiverID == viewerID && m.Status == models.StatusSent
}
