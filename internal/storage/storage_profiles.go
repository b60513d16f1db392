package storage

import "slices"

// SelfProfileID holds what the assistant has learned about itself.
const SelfProfileID = "MINA_SELF"

type Profile struct {
	DisplayName string   `json:"display_name,omitempty"`
	Bio         string   `json:"bio,omitempty"`
	Facts       []string `json:"facts"`
}

func (p Profile) clone() Profile {
	p.Facts = slices.Clone(p.Facts)
	return p
}

// Profile returns a copy of the stored profile, zero when unknown.
func (s *Storage) Profile(userID string) Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.profiles[userID]; ok {
		return p.clone()
	}
	return Profile{}
}

// Profiles returns a copy of all profiles keyed by user id.
func (s *Storage) Profiles() map[string]Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Profile, len(s.profiles))
	for id, p := range s.profiles {
		out[id] = p.clone()
	}
	return out
}

// UpdateProfile applies fn to the user's profile (created when missing) and
// persists when fn reports a change.
func (s *Storage) UpdateProfile(userID string, fn func(p *Profile) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		p = &Profile{}
	}
	if !fn(p) {
		return
	}
	s.profiles[userID] = p
	s.persist(keyProfiles, s.profiles)
}

func (s *Storage) ClearProfile(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[userID]; !ok {
		return
	}
	delete(s.profiles, userID)
	s.persist(keyProfiles, s.profiles)
}
