package storage

type Settings struct {
	OptedOut       map[string]bool   `json:"opted_out"`
	Voices         map[string]string `json:"voices"`
	GlobalVoice    string            `json:"global_voice"`
	ChatterEnabled bool              `json:"chatter_enabled"`
	AIEnabled      bool              `json:"ai_enabled"`
	AIModel        string            `json:"ai_model,omitempty"`
}

func defaultSettings(voice string) Settings {
	return Settings{
		OptedOut:    map[string]bool{},
		Voices:      map[string]string{},
		GlobalVoice: voice,
		AIEnabled:   true,
	}
}

func (st *Settings) normalize(voice string) {
	if st.OptedOut == nil {
		st.OptedOut = map[string]bool{}
	}
	if st.Voices == nil {
		st.Voices = map[string]string{}
	}
	if st.GlobalVoice == "" {
		st.GlobalVoice = voice
	}
}

// IsOptedOut reports whether the user disabled voice capture.
func (s *Storage) IsOptedOut(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.OptedOut[userID]
}

func (s *Storage) SetOptOut(userID string, optOut bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settings.OptedOut[userID] == optOut {
		return
	}
	if optOut {
		s.settings.OptedOut[userID] = true
	} else {
		delete(s.settings.OptedOut, userID)
	}
	s.persist(keySettings, s.settings)
}

// Voice returns the user's voice code, falling back to the global voice.
func (s *Storage) Voice(userID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.settings.Voices[userID]; ok && v != "" {
		return v
	}
	return s.settings.GlobalVoice
}

func (s *Storage) SetVoice(userID, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if code == "" {
		delete(s.settings.Voices, userID)
	} else {
		s.settings.Voices[userID] = code
	}
	s.persist(keySettings, s.settings)
}

func (s *Storage) GlobalVoice() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.GlobalVoice
}

func (s *Storage) SetGlobalVoice(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.GlobalVoice = code
	s.persist(keySettings, s.settings)
}

func (s *Storage) ChatterEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.ChatterEnabled
}

func (s *Storage) SetChatterEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.ChatterEnabled = enabled
	s.persist(keySettings, s.settings)
}

func (s *Storage) AIEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.AIEnabled
}

func (s *Storage) SetAIEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.AIEnabled = enabled
	s.persist(keySettings, s.settings)
}

// AIModel is the operator-selected model override, empty for the configured default.
func (s *Storage) AIModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.AIModel
}

func (s *Storage) SetAIModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.AIModel = model
	s.persist(keySettings, s.settings)
}
