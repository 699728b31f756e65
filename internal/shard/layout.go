package shard

import "path/filepath"

const (
	// MetadataFile is the analyzer's run metadata inside a shard.
	MetadataFile = "metadata.json"
	// LogFile is the invocation log inside a shard.
	LogFile = "analyze.log"
)

// Layout places shards under a common root.
type Layout struct {
	Root string
}

// Shard is the on-disk location of one unit's output.
type Shard struct {
	Name string
	Dir  string
}

// Shard returns the location of u's shard.
func (l Layout) Shard(u Unit) Shard {
	name := u.Name()
	return Shard{Name: name, Dir: filepath.Join(l.Root, name)}
}

func (s Shard) MetadataPath() string { return filepath.Join(s.Dir, MetadataFile) }

func (s Shard) LogPath() string { return filepath.Join(s.Dir, LogFile) }
