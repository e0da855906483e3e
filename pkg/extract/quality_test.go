package extract

import (
	"strings"
	"testing"
)

func TestNeedsOCR_ShortText(t *testing.T) {
	if !NeedsOCR("abc") {
		t.Error("expected OCR trigger for text under 50 readable chars")
	}
	if !NeedsOCR("") {
		t.Error("expected OCR trigger for empty text")
	}
	if !NeedsOCR("   \n\t  ") {
		t.Error("expected OCR trigger for whitespace-only text")
	}
}

func TestNeedsOCR_CleanText(t *testing.T) {
	clean := strings.Repeat("This is a perfectly normal English sentence. ", 5)
	if NeedsOCR(clean) {
		t.Error("clean English text should not trigger OCR")
	}
}

func TestNeedsOCR_CleanHindiText(t *testing.T) {
	hindi := strings.Repeat("यह एक सामान्य हिंदी वाक्य है। ", 10)
	if NeedsOCR(hindi) {
		t.Error("clean Devanagari text should not trigger OCR")
	}
}

func TestNeedsOCR_ArtifactHeavyText(t *testing.T) {
	garbled := strings.Repeat("word |||| next ______ more ...... end      tail ", 5)
	if !NeedsOCR(garbled) {
		t.Error("artifact-heavy text should trigger OCR")
	}
}

func TestNormalizeText_StripsUnsupported(t *testing.T) {
	in := "Hello\x00 World� こんにちは नमस्ते"
	out := NormalizeText(in)
	if strings.ContainsRune(out, 0) || strings.ContainsRune(out, '�') {
		t.Errorf("NUL or replacement char survived: %q", out)
	}
	if strings.Contains(out, "こんにちは") {
		t.Errorf("unsupported script should be dropped: %q", out)
	}
	if !strings.Contains(out, "नमस्ते") {
		t.Errorf("Devanagari should be retained: %q", out)
	}
	if !strings.Contains(out, "Hello") {
		t.Errorf("ASCII should be retained: %q", out)
	}
}

func TestNormalizeText_CollapsesWhitespace(t *testing.T) {
	in := "one    two\n\n\nthree  four\n   \nfive"
	out := NormalizeText(in)
	if strings.Contains(out, "  ") {
		t.Errorf("intra-line whitespace runs should collapse: %q", out)
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			t.Errorf("empty lines should be dropped: %q", out)
		}
	}
}

func TestNormalizeText_NFCIdempotent(t *testing.T) {
	in := "Café résumé नमस्ते"
	once := NormalizeText(in)
	twice := NormalizeText(once)
	if once != twice {
		t.Errorf("normalization not idempotent: %q vs %q", once, twice)
	}
}

func TestPostProcessOCRText(t *testing.T) {
	in := "Hello |||| world ______ wait ......... done .\nNext  line ,  here"
	out := PostProcessOCRText(in)
	if strings.Contains(out, "||") || strings.Contains(out, "___") {
		t.Errorf("pipe/underscore runs should be stripped: %q", out)
	}
	if strings.Contains(out, "....") {
		t.Errorf("long ellipses should normalize to three dots: %q", out)
	}
	if strings.Contains(out, " .") || strings.Contains(out, " ,") {
		t.Errorf("punctuation spacing should be fixed: %q", out)
	}
}
