package raft

import (
	"encoding/binary"
	"fmt"

	"github.com/juju/errors"
	"golang.org/x/exp/slices"
)

// ServerID identifies one member of the cluster. Zero is reserved to mean
// "no server" (e.g. an unset leader_id or voted_for).
type ServerID uint64

// Role determines whether a configuration member counts toward quorums
// and whether it receives log traffic at all.
type Role int

const (
	// Voter counts toward election and commit quorums.
	Voter Role = iota
	// Standby receives log entries but never votes.
	Standby
	// Spare receives nothing; it exists only while catching up toward
	// promotion to Standby or Voter.
	Spare
)

func (r Role) String() string {
	switch r {
	case Voter:
		return "voter"
	case Standby:
		return "standby"
	case Spare:
		return "spare"
	default:
		return "unknown"
	}
}

// ConfigurationServer is one member of a Configuration.
type ConfigurationServer struct {
	ID      ServerID
	Address string
	Role    Role
}

// Configuration is the ordered list of servers that make up a cluster at
// some point in the log. It is encoded into EntryConfiguration entries and
// edited one server at a time by single-server membership changes (§4.6).
type Configuration struct {
	Servers []ConfigurationServer
}

// IndexOf returns the position of id in Servers, or -1 if absent.
func (c *Configuration) IndexOf(id ServerID) int {
	for i, s := range c.Servers {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// Get returns the member with the given id and whether it was found.
func (c *Configuration) Get(id ServerID) (ConfigurationServer, bool) {
	if i := c.IndexOf(id); i >= 0 {
		return c.Servers[i], true
	}
	return ConfigurationServer{}, false
}

// Add appends a new member. It fails with ErrConfigurationInvalid if id is
// already present, id is zero, or address is empty.
func (c *Configuration) Add(id ServerID, address string, role Role) error {
	if id == 0 {
		return errors.Annotate(ErrConfigurationInvalid, "server id cannot be zero")
	}
	if address == "" {
		return errors.Annotate(ErrConfigurationInvalid, "address cannot be empty")
	}
	if c.IndexOf(id) >= 0 {
		return errors.Annotatef(ErrConfigurationInvalid, "server %d already present", id)
	}
	c.Servers = append(c.Servers, ConfigurationServer{ID: id, Address: address, Role: role})
	return nil
}

// Remove drops the member with the given id.
func (c *Configuration) Remove(id ServerID) error {
	i := c.IndexOf(id)
	if i < 0 {
		return errors.Annotatef(ErrConfigurationInvalid, "server %d not present", id)
	}
	c.Servers = slices.Delete(c.Servers, i, i+1)
	return nil
}

// SetRole changes the role of an existing member in place.
func (c *Configuration) SetRole(id ServerID, role Role) error {
	i := c.IndexOf(id)
	if i < 0 {
		return errors.Annotatef(ErrConfigurationInvalid, "server %d not present", id)
	}
	c.Servers[i].Role = role
	return nil
}

// Voters returns the ids of every member with Role == Voter, sorted for
// deterministic quorum iteration.
func (c *Configuration) Voters() []ServerID {
	ids := make([]ServerID, 0, len(c.Servers))
	for _, s := range c.Servers {
		if s.Role == Voter {
			ids = append(ids, s.ID)
		}
	}
	slices.Sort(ids)
	return ids
}

// Quorum is the number of Voter grants/matches needed for a majority.
func (c *Configuration) Quorum() int {
	return len(c.Voters())/2 + 1
}

// Validate enforces non-empty, unique-id, at-least-one-voter invariants.
func (c *Configuration) Validate() error {
	if len(c.Servers) == 0 {
		return errors.Annotate(ErrConfigurationInvalid, "configuration has no servers")
	}
	seen := make(map[ServerID]bool, len(c.Servers))
	for _, s := range c.Servers {
		if s.ID == 0 {
			return errors.Annotate(ErrConfigurationInvalid, "server id cannot be zero")
		}
		if seen[s.ID] {
			return errors.Annotatef(ErrConfigurationInvalid, "duplicate server id %d", s.ID)
		}
		seen[s.ID] = true
	}
	if len(c.Voters()) == 0 {
		return errors.Annotate(ErrConfigurationInvalid, "configuration has no voters")
	}
	return nil
}

// Copy returns a deep copy, so callers can hold a Configuration across a
// step call without aliasing the Server's own copy.
func (c *Configuration) Copy() Configuration {
	out := Configuration{Servers: make([]ConfigurationServer, len(c.Servers))}
	copy(out.Servers, c.Servers)
	return out
}

// Encode serializes a Configuration into a flat byte buffer: a count
// followed by (id, role, address-length, address) tuples. It is the
// on-the-wire/on-disk shape stored in EntryConfiguration.Data and in
// snapshot metadata.
func (c *Configuration) Encode() []byte {
	buf := make([]byte, 0, 16+len(c.Servers)*32)
	var hdr [8]byte
	binary.BigEndian.PutUint64(hdr[:], uint64(len(c.Servers)))
	buf = append(buf, hdr[:]...)
	for _, s := range c.Servers {
		var field [8]byte
		binary.BigEndian.PutUint64(field[:], uint64(s.ID))
		buf = append(buf, field[:]...)
		buf = append(buf, byte(s.Role))
		var alen [4]byte
		binary.BigEndian.PutUint32(alen[:], uint32(len(s.Address)))
		buf = append(buf, alen[:]...)
		buf = append(buf, s.Address...)
	}
	return buf
}

// DecodeConfiguration is the inverse of Encode. It fails with
// ErrConfigurationInvalid on truncated or malformed input.
func DecodeConfiguration(buf []byte) (Configuration, error) {
	var c Configuration
	if len(buf) < 8 {
		return c, errors.Annotate(ErrConfigurationInvalid, "truncated configuration header")
	}
	n := binary.BigEndian.Uint64(buf[:8])
	buf = buf[8:]
	c.Servers = make([]ConfigurationServer, 0, n)
	for i := uint64(0); i < n; i++ {
		if len(buf) < 13 {
			return Configuration{}, errors.Annotate(ErrConfigurationInvalid, "truncated configuration entry")
		}
		id := ServerID(binary.BigEndian.Uint64(buf[:8]))
		role := Role(buf[8])
		alen := binary.BigEndian.Uint32(buf[9:13])
		buf = buf[13:]
		if uint32(len(buf)) < alen {
			return Configuration{}, errors.Annotate(ErrConfigurationInvalid, "truncated configuration address")
		}
		addr := string(buf[:alen])
		buf = buf[alen:]
		c.Servers = append(c.Servers, ConfigurationServer{ID: id, Address: addr, Role: role})
	}
	return c, nil
}

// ConfigurationChange describes one pending role edit, proposed as an
// EntryConfiguration payload (§4.6: "A change entry proposes one role
// edit").
type ConfigurationChange struct {
	Server ConfigurationServer
	// Remove, when true, drops Server.ID instead of adding/updating it.
	Remove bool
}

// Apply returns a new Configuration with chg applied, leaving c untouched.
func (c *Configuration) Apply(chg ConfigurationChange) (Configuration, error) {
	next := c.Copy()
	if chg.Remove {
		if err := next.Remove(chg.Server.ID); err != nil {
			return Configuration{}, err
		}
		return next, nil
	}
	if i := next.IndexOf(chg.Server.ID); i >= 0 {
		next.Servers[i] = chg.Server
		return next, nil
	}
	if err := next.Add(chg.Server.ID, chg.Server.Address, chg.Server.Role); err != nil {
		return Configuration{}, err
	}
	return next, nil
}

// Diff returns the ids present in to but not in from (added) and the ids
// present in from but not in to (removed), each sorted. A server present
// in both with a different role or address is not reported.
func Diff(from, to Configuration) (added, removed []ServerID) {
	fromIdx := make(map[ServerID]ConfigurationServer, len(from.Servers))
	for _, s := range from.Servers {
		fromIdx[s.ID] = s
	}
	toIdx := make(map[ServerID]ConfigurationServer, len(to.Servers))
	for _, s := range to.Servers {
		toIdx[s.ID] = s
	}
	for id := range toIdx {
		if _, ok := fromIdx[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range fromIdx {
		if _, ok := toIdx[id]; !ok {
			removed = append(removed, id)
		}
	}
	slices.Sort(added)
	slices.Sort(removed)
	return added, removed
}

func (c Configuration) String() string {
	return fmt.Sprintf("%v", c.Servers)
}
