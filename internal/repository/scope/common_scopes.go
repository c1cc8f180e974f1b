package scope

import "gorm.io/gorm"

// ChronologicalMessages orders a session log the way it was appended.
func ChronologicalMessages(db *gorm.DB) *gorm.DB {
	return db.Order("seq ASC")
}

// QueueOrder is FIFO by creation time, id breaks ties.
func QueueOrder(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC").Order("id ASC")
}
