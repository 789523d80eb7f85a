package xid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// New returns prefix-<uuid> with the uuid's dashes removed.
func New(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return fmt.Sprintf("%s-%s", prefix, id)
}
