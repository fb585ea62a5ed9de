package mediastore

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/unicode/norm"
)

func newTestStore(t *testing.T, baseURL string) *Store {
	t.Helper()
	store, err := New(t.TempDir(), baseURL, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return store
}

func TestKeyNormalizesCharacter(t *testing.T) {
	composed := "麼"
	decomposed := norm.NFD.String(composed)
	if Key(composed, AssetAudio) != Key(decomposed, AssetAudio) {
		t.Fatal("expected NFC-equivalent characters to share a key")
	}
	if Key("累", AssetAudio) == Key("累", AssetImage) {
		t.Fatal("expected asset types to produce distinct keys")
	}
	if !strings.HasSuffix(Key("累", AssetImage), "-image") {
		t.Fatalf("expected image suffix, got %q", Key("累", AssetImage))
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	store := newTestStore(t, "")
	key := Key("累", AssetAudio)
	meta := Metadata{
		Character:   "累",
		AssetType:   AssetAudio,
		ContentType: "audio/mpeg",
		Provider:    "tts-demo",
		Validated:   true,
	}
	if err := store.Put(key, []byte("audio-bytes"), meta); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if !store.Exists(key) {
		t.Fatal("expected asset to exist")
	}

	asset, err := store.Get(key)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if string(asset.Data) != "audio-bytes" {
		t.Fatal("unexpected asset bytes")
	}
	if asset.Meta.Provider != "tts-demo" {
		t.Fatalf("unexpected provider %q", asset.Meta.Provider)
	}
	if !strings.HasSuffix(asset.Meta.Filename, ".mp3") {
		t.Fatalf("expected mp3 extension, got %q", asset.Meta.Filename)
	}
	if asset.Meta.GeneratedAt.IsZero() {
		t.Fatal("expected GeneratedAt to be stamped")
	}
}

func TestGetMissingAsset(t *testing.T) {
	store := newTestStore(t, "")
	if _, err := store.Get(Key("山", AssetImage)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteRemovesAssetAndSidecar(t *testing.T) {
	store := newTestStore(t, "")
	key := Key("好", AssetImage)
	if err := store.Put(key, []byte{0x89}, Metadata{Character: "好", AssetType: AssetImage, ContentType: "image/png"}); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if err := store.Delete(key); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if store.Exists(key) {
		t.Fatal("expected asset to be gone")
	}
	// absent key deletes cleanly
	if err := store.Delete(key); err != nil {
		t.Fatalf("Delete of absent key returned error: %v", err)
	}
}

func TestURLJoinsBase(t *testing.T) {
	store := newTestStore(t, "https://media.example.com/assets/")
	key := Key("行", AssetAudio)
	if err := store.Put(key, []byte("a"), Metadata{Character: "行", AssetType: AssetAudio, ContentType: "audio/mpeg"}); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	got, err := store.URL(key)
	if err != nil {
		t.Fatalf("URL returned error: %v", err)
	}
	want := "https://media.example.com/assets/" + key + ".mp3"
	if got != want {
		t.Fatalf("URL = %q, want %q", got, want)
	}
}

func TestURLFallsBackToPath(t *testing.T) {
	store := newTestStore(t, "")
	key := Key("行", AssetAudio)
	if err := store.Put(key, []byte("a"), Metadata{Character: "行", AssetType: AssetAudio, ContentType: "audio/mpeg"}); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	got, err := store.URL(key)
	if err != nil {
		t.Fatalf("URL returned error: %v", err)
	}
	if !filepath.IsAbs(got) && !strings.Contains(got, string(filepath.Separator)) {
		t.Fatalf("expected a file path, got %q", got)
	}
}

func TestClaimBlocksSecondClaimer(t *testing.T) {
	store := newTestStore(t, "")
	key := Key("累", AssetImage)
	release, err := store.Claim(key, time.Minute)
	if err != nil {
		t.Fatalf("Claim returned error: %v", err)
	}
	if _, err := store.Claim(key, time.Minute); !errors.Is(err, ErrClaimed) {
		t.Fatalf("expected ErrClaimed, got %v", err)
	}
	release()
	release2, err := store.Claim(key, time.Minute)
	if err != nil {
		t.Fatalf("Claim after release returned error: %v", err)
	}
	release2()
}

func TestClaimBreaksStaleMarker(t *testing.T) {
	store := newTestStore(t, "")
	key := Key("累", AssetImage)
	claimPath := filepath.Join(store.dir, key+".claim")
	if err := os.WriteFile(claimPath, nil, 0o644); err != nil {
		t.Fatalf("write stale claim: %v", err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(claimPath, old, old); err != nil {
		t.Fatalf("age claim: %v", err)
	}

	release, err := store.Claim(key, 10*time.Minute)
	if err != nil {
		t.Fatalf("expected stale claim to be broken, got %v", err)
	}
	release()
}

func TestStatsCountsAssetTypes(t *testing.T) {
	store := newTestStore(t, "")
	if err := store.Put(Key("累", AssetAudio), []byte("aaa"), Metadata{Character: "累", AssetType: AssetAudio, ContentType: "audio/mpeg"}); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if err := store.Put(Key("累", AssetImage), []byte("bbbb"), Metadata{Character: "累", AssetType: AssetImage, ContentType: "image/png"}); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if stats.AudioCount != 1 || stats.ImageCount != 1 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if stats.TotalBytes != 7 {
		t.Fatalf("expected 7 bytes, got %d", stats.TotalBytes)
	}
}

func TestPurgeCharacterRemovesAllAssets(t *testing.T) {
	store := newTestStore(t, "")
	for _, assetType := range []AssetType{AssetAudio, AssetImage} {
		contentType := "audio/mpeg"
		if assetType == AssetImage {
			contentType = "image/png"
		}
		if err := store.Put(Key("好", assetType), []byte("x"), Metadata{Character: "好", AssetType: assetType, ContentType: contentType}); err != nil {
			t.Fatalf("Put returned error: %v", err)
		}
	}
	if err := store.PurgeCharacter("好"); err != nil {
		t.Fatalf("PurgeCharacter returned error: %v", err)
	}
	if store.Exists(Key("好", AssetAudio)) || store.Exists(Key("好", AssetImage)) {
		t.Fatal("expected all assets removed")
	}
}
