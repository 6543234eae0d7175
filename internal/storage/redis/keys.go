package redis

import (
	"fmt"

	"github.com/mcoot/provisioner/internal/model"
)

// Key prefix for all provisioner data
const keyPrefix = "prov"

// accountKey returns the Redis key for an Account
func accountKey(email string) string {
	return fmt.Sprintf("%s:account:%s", keyPrefix, email)
}

// accountsIndexKey returns the Redis key for the SET of all account emails
func accountsIndexKey() string {
	return fmt.Sprintf("%s:idx:accounts", keyPrefix)
}

// taskAccountsIndexKey returns the Redis key for the SET of accounts created by a task
func taskAccountsIndexKey(id model.TaskID) string {
	return fmt.Sprintf("%s:idx:task_accounts:%s", keyPrefix, id)
}

// taskKey returns the Redis key for a Task
func taskKey(id model.TaskID) string {
	return fmt.Sprintf("%s:task:%s", keyPrefix, id)
}

// tasksIndexKey returns the Redis key for the SET of task ids
func tasksIndexKey() string {
	return fmt.Sprintf("%s:idx:tasks", keyPrefix)
}
