package extract

import "testing"

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		primary string
	}{
		{"english", "The quick brown fox jumps over the lazy dog", "en"},
		{"hindi", "नमस्ते दुनिया यह एक परीक्षण है", "hi"},
		{"bengali", "হ্যালো বিশ্ব এটি একটি পরীক্ষা", "bn"},
		{"tamil", "வணக்கம் உலகம் இது ஒரு சோதனை", "ta"},
		{"empty", "", "en"},
		{"digits only", "12345 67890", "en"},
		{"mixed mostly english", "Hello world this is mostly English text with नमस्ते", "en"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary, _ := DetectLanguage(tt.text)
			if primary != tt.primary {
				t.Errorf("DetectLanguage(%q) primary = %q, want %q", tt.text, primary, tt.primary)
			}
		})
	}
}

func TestDetectLanguage_Distribution(t *testing.T) {
	primary, dist := DetectLanguage("नमस्ते hello")
	if primary != "hi" && primary != "en" {
		t.Errorf("unexpected primary %q", primary)
	}
	if dist["hi"] <= 0 {
		t.Errorf("expected non-zero hindi fraction, got %v", dist["hi"])
	}
	if dist["en"] <= 0 {
		t.Errorf("expected non-zero english fraction, got %v", dist["en"])
	}
}

func TestDetectLanguage_ThresholdFallback(t *testing.T) {
	// A few Devanagari characters in a sea of digits: below the 0.3
	// threshold, so the detector falls back to English.
	primary, _ := DetectLanguage("123456789012345678901234567890 नम")
	if primary != "en" {
		t.Errorf("expected fallback to en, got %q", primary)
	}
}
