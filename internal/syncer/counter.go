package syncer

import "fmt"

// Counter tallies what one delta walk did to the catalog.
type Counter struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

// Merge folds other into c.
func (c *Counter) Merge(other Counter) {
	c.Added += other.Added
	c.Updated += other.Updated
	c.Deleted += other.Deleted
}

// Empty reports whether the walk changed nothing.
func (c Counter) Empty() bool {
	return c.Added == 0 && c.Updated == 0 && c.Deleted == 0
}

// Detail returns a human-readable summary of the walk.
func (c Counter) Detail() string {
	if c.Empty() {
		return "no changes"
	}
	return fmt.Sprintf("added %d, updated %d, deleted %d", c.Added, c.Updated, c.Deleted)
}
