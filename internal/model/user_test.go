package model

import "testing"

func TestParseProvider(t *testing.T) {
	tests := []struct {
		in   string
		want Provider
		ok   bool
	}{
		{"google", ProviderGoogle, true},
		{"Twitter", ProviderTwitter, true},
		{"  LINKEDIN ", ProviderLinkedIn, true},
		{"facebook", "", false},
		{"", "", false},
		{"oauth_google", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseProvider(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseProvider(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSocialLinks(t *testing.T) {
	var s SocialLinks
	if s.Count() != 0 {
		t.Fatalf("empty links: Count() = %d, want 0", s.Count())
	}

	id := "tw-1"
	s.Set(ProviderTwitter, &id)
	if !s.Connected(ProviderTwitter) || s.Connected(ProviderGoogle) {
		t.Errorf("after Set(twitter): twitter=%v google=%v", s.Connected(ProviderTwitter), s.Connected(ProviderGoogle))
	}
	if got := s.Get(ProviderTwitter); got == nil || *got != "tw-1" {
		t.Errorf("Get(twitter) = %v, want tw-1", got)
	}

	li := "li-1"
	s.Set(ProviderLinkedIn, &li)
	if s.Count() != 2 {
		t.Errorf("Count() = %d, want 2", s.Count())
	}

	s.Set(ProviderTwitter, nil)
	if s.Connected(ProviderTwitter) || s.Count() != 1 {
		t.Errorf("after clearing twitter: connected=%v count=%d", s.Connected(ProviderTwitter), s.Count())
	}

	if s.Get(Provider("myspace")) != nil {
		t.Error("unknown provider should read as not linked")
	}
}
