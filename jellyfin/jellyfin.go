// Package jellyfin talks to a Jellyfin-compatible media server. It is
// the library-side source for playlists, track records, file paths and
// lyrics.
package jellyfin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/syeo66/playlistscope/cache"
	"github.com/syeo66/playlistscope/errors"
	"github.com/syeo66/playlistscope/models"
	"github.com/syeo66/playlistscope/settings"
	"github.com/syeo66/playlistscope/textnorm"
	"github.com/syeo66/playlistscope/watchdog"
)

const (
	// ServiceName is the watchdog identity of this integration.
	ServiceName = "jellyfin"

	requestTimeout  = 15 * time.Second
	libraryPageSize = 500

	// trackFields is the field list requested for every track record.
	trackFields = "Name,AlbumArtist,Artists,Album,ProductionYear,PremiereDate,Genres,RunTimeTicks,UserData,HasLyrics,Path,Tags,PlaylistItemId"
)

// Cache namespaces and their fallback lifetimes. The live lifetimes come
// from settings on every write.
const (
	searchCache    = "jellyfin_tracks"
	playlistsCache = "playlists"
	libraryCache   = "library"

	defaultSearchTTL    = 24 * time.Hour
	defaultPlaylistsTTL = 30 * time.Minute
	defaultLibraryTTL   = 24 * time.Hour
)

// lrcTimecode matches the bracketed [mm:ss.xx] prefixes in .lrc files.
var lrcTimecode = regexp.MustCompile(`\[.*?\]`)

// Service is the media server client. All methods are safe for
// concurrent use.
type Service struct {
	client   *resty.Client
	userID   string
	cache    *cache.Store
	settings *settings.Store
	watchdog *watchdog.Watchdog
	logger   *logrus.Logger
}

// New creates a media server client. baseURL must carry the scheme and
// host; the API key is sent as X-Emby-Token on every request.
func New(baseURL, apiKey, userID string, store *cache.Store, prefs *settings.Store, dog *watchdog.Watchdog, logger *logrus.Logger) *Service {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(requestTimeout).
		SetHeader("X-Emby-Token", apiKey).
		SetHeader("Accept", "application/json")

	return &Service{
		client:   client,
		userID:   userID,
		cache:    store,
		settings: prefs,
		watchdog: dog,
		logger:   logger,
	}
}

// itemsPage is the envelope the server wraps every item listing in.
type itemsPage struct {
	Items            []wireItem `json:"Items"`
	TotalRecordCount int        `json:"TotalRecordCount"`
}

// wireItem is the raw item record. The play count arrives nested under
// UserData and is flattened into the LibraryItem.
type wireItem struct {
	models.LibraryItem
	ChildCount int       `json:"ChildCount,omitempty"`
	UserData   *userData `json:"UserData,omitempty"`
}

type userData struct {
	PlayCount int `json:"PlayCount"`
}

func (w wireItem) item() models.LibraryItem {
	it := w.LibraryItem
	if w.UserData != nil {
		plays := w.UserData.PlayCount
		it.PlayCount = &plays
	}
	return it
}

// searchResult is the cached outcome of one track search. Hits and
// misses are both cached; transport failures never are.
type searchResult struct {
	Found bool
	Item  models.LibraryItem
}

// Ping verifies connectivity and credentials by listing users.
func (s *Service) Ping(ctx context.Context) error {
	var users []struct {
		ID   string `json:"Id"`
		Name string `json:"Name"`
	}
	if err := s.get(ctx, "/Users", nil, &users); err != nil {
		return err
	}
	s.logger.WithField("users", len(users)).Debug("Library server reachable")
	return nil
}

// Playlists lists the user's audio playlists sorted by name. Playlists
// holding no audio items are dropped.
func (s *Service) Playlists(ctx context.Context) ([]models.Playlist, error) {
	if cached, ok := s.cache.Get(playlistsCache, s.userID); ok {
		if lists, ok := cached.([]models.Playlist); ok {
			return lists, nil
		}
	}

	params := map[string]string{
		"IncludeItemTypes": "Playlist",
		"Recursive":        "true",
	}
	var page itemsPage
	if err := s.get(ctx, "/Users/"+s.userID+"/Items", params, &page); err != nil {
		return nil, err
	}

	lists := make([]models.Playlist, 0, len(page.Items))
	for _, raw := range page.Items {
		audio, err := s.holdsAudio(ctx, raw.ID)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"playlist": raw.Name,
				"error":    err,
			}).Warn("Skipping playlist with unreadable contents")
			continue
		}
		if !audio {
			continue
		}
		lists = append(lists, models.Playlist{ID: raw.ID, Name: raw.Name, TrackCount: raw.ChildCount})
	}
	sort.Slice(lists, func(i, j int) bool {
		return strings.ToLower(lists[i].Name) < strings.ToLower(lists[j].Name)
	})

	s.cache.Set(playlistsCache, s.userID, lists, s.settings.TTL("playlists", defaultPlaylistsTTL))
	s.logger.WithField("playlists", len(lists)).Debug("Listed library playlists")
	return lists, nil
}

// holdsAudio reports whether a playlist contains at least one audio item.
func (s *Service) holdsAudio(ctx context.Context, playlistID string) (bool, error) {
	params := map[string]string{
		"ParentId":         playlistID,
		"IncludeItemTypes": "Audio",
		"Recursive":        "true",
		"Limit":            "1",
	}
	var page itemsPage
	if err := s.get(ctx, "/Items", params, &page); err != nil {
		return false, err
	}
	return page.TotalRecordCount > 0 || len(page.Items) > 0, nil
}

// PlaylistTracks returns the track records of one playlist. Records
// missing a name or a primary artist are dropped here so downstream
// enrichment never sees them.
func (s *Service) PlaylistTracks(ctx context.Context, playlistID string) ([]models.LibraryItem, error) {
	if playlistID == "" {
		return nil, errors.ErrValidationFailed.WithContext("field", "playlistID")
	}

	params := map[string]string{
		"UserId": s.userID,
		"Fields": trackFields,
	}
	var page itemsPage
	if err := s.get(ctx, "/Playlists/"+playlistID+"/Items", params, &page); err != nil {
		return nil, err
	}

	items := make([]models.LibraryItem, 0, len(page.Items))
	for _, raw := range page.Items {
		it := raw.item()
		if it.Name == "" || it.PrimaryArtist() == "" {
			s.logger.WithField("id", it.ID).Debug("Dropping track without name or artist")
			continue
		}
		items = append(items, it)
	}
	return items, nil
}

// SearchTrack finds a library track whose name contains title and whose
// artist list matches artist, both compared after normalization. A miss
// returns nil without error.
func (s *Service) SearchTrack(ctx context.Context, title, artist string) (*models.LibraryItem, error) {
	if title == "" {
		return nil, errors.ErrValidationFailed.WithContext("field", "title")
	}

	key := textnorm.SearchTerm(artist) + "|" + textnorm.SearchTerm(title)
	if cached, ok := s.cache.Get(searchCache, key); ok {
		if result, ok := cached.(searchResult); ok {
			if !result.Found {
				return nil, nil
			}
			item := result.Item
			return &item, nil
		}
	}

	params := map[string]string{
		"SearchTerm":       textnorm.SearchTerm(title),
		"IncludeItemTypes": "Audio",
		"Recursive":        "true",
		"UserId":           s.userID,
		"Fields":           trackFields,
	}
	var page itemsPage
	if err := s.get(ctx, "/Items", params, &page); err != nil {
		return nil, err
	}

	ttl := s.settings.TTL("library", defaultSearchTTL)
	for _, raw := range page.Items {
		it := raw.item()
		if !textnorm.Contains(it.Name, title) {
			continue
		}
		if !artistMatches(it, artist) {
			continue
		}
		s.cache.Set(searchCache, key, searchResult{Found: true, Item: it}, ttl)
		item := it
		return &item, nil
	}

	s.cache.Set(searchCache, key, searchResult{Found: false}, ttl)
	return nil, nil
}

func artistMatches(item models.LibraryItem, artist string) bool {
	if artist == "" {
		return true
	}
	for _, a := range item.Artists {
		if textnorm.Contains(a, artist) {
			return true
		}
	}
	return item.AlbumArtist != "" && textnorm.Contains(item.AlbumArtist, artist)
}

// TrackMetadata fetches one item by its library ID.
func (s *Service) TrackMetadata(ctx context.Context, id string) (*models.LibraryItem, error) {
	if id == "" {
		return nil, errors.ErrValidationFailed.WithContext("field", "id")
	}

	var raw wireItem
	params := map[string]string{"Fields": trackFields}
	if err := s.get(ctx, "/Users/"+s.userID+"/Items/"+id, params, &raw); err != nil {
		return nil, err
	}
	item := raw.item()
	return &item, nil
}

// Lyrics looks a track up by title and artist and returns its lyric
// text. An unmatched track yields an empty string without error.
func (s *Service) Lyrics(ctx context.Context, title, artist string) (string, error) {
	item, err := s.SearchTrack(ctx, title, artist)
	if err != nil {
		return "", err
	}
	if item == nil {
		return "", nil
	}
	return s.ItemLyrics(ctx, *item)
}

// ItemLyrics returns the lyric text for a library item. A sidecar .lrc
// file next to the media file wins; otherwise the server's lyrics
// endpoint is consulted when the item advertises lyrics.
func (s *Service) ItemLyrics(ctx context.Context, item models.LibraryItem) (string, error) {
	if text, ok := sidecarLyrics(item.Path); ok {
		return text, nil
	}
	if !item.HasLyrics || item.ID == "" {
		return "", nil
	}

	var payload struct {
		Lyrics []struct {
			Text string `json:"Text"`
		} `json:"Lyrics"`
	}
	if err := s.get(ctx, "/Items/"+item.ID+"/Lyrics", nil, &payload); err != nil {
		return "", err
	}

	lines := make([]string, 0, len(payload.Lyrics))
	for _, l := range payload.Lyrics {
		if strings.TrimSpace(l.Text) == "" {
			continue
		}
		lines = append(lines, l.Text)
	}
	return strings.Join(lines, "\n"), nil
}

// sidecarLyrics reads an .lrc file stored next to the media file and
// strips the bracketed timecodes.
func sidecarLyrics(mediaPath string) (string, bool) {
	if mediaPath == "" {
		return "", false
	}
	lrcPath := strings.TrimSuffix(mediaPath, filepath.Ext(mediaPath)) + ".lrc"
	data, err := os.ReadFile(lrcPath)
	if err != nil {
		return "", false
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(lrcTimecode.ReplaceAllString(line, ""))
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return "", false
	}
	return strings.Join(lines, "\n"), true
}

// ResolvePath returns the media file path for a track, or "" when the
// library does not know it.
func (s *Service) ResolvePath(ctx context.Context, title, artist string) (string, error) {
	params := map[string]string{
		"Recursive":        "true",
		"IncludeItemTypes": "Audio",
		"Filters":          "IsNotFolder",
		"Artists":          artist,
		"Name":             title,
		"Fields":           "Path",
	}
	var page itemsPage
	if err := s.get(ctx, "/Items", params, &page); err != nil {
		return "", err
	}
	for _, raw := range page.Items {
		if raw.Path != "" {
			return raw.Path, nil
		}
	}
	return "", nil
}

// CreatePlaylist creates a playlist from library item IDs and returns
// the new playlist's ID. The cached playlist listing is invalidated.
func (s *Service) CreatePlaylist(ctx context.Context, name string, ids []string) (string, error) {
	if name == "" {
		return "", errors.ErrValidationFailed.WithContext("field", "name")
	}
	if len(ids) == 0 {
		return "", errors.ErrValidationFailed.WithContext("field", "ids")
	}

	body := map[string]interface{}{
		"Name":   name,
		"UserId": s.userID,
		"Ids":    ids,
	}
	var created struct {
		ID string `json:"Id"`
	}
	if err := s.post(ctx, "/Playlists", body, &created); err != nil {
		return "", err
	}

	s.cache.Delete(playlistsCache, s.userID)
	s.logger.WithFields(logrus.Fields{
		"name":   name,
		"tracks": len(ids),
	}).Info("Created library playlist")
	return created.ID, nil
}

// FullLibrary scans every audio item the user can see, page by page.
// The scan is expensive, so the result is cached.
func (s *Service) FullLibrary(ctx context.Context) ([]models.LibraryItem, error) {
	if cached, ok := s.cache.Get(libraryCache, s.userID); ok {
		if items, ok := cached.([]models.LibraryItem); ok {
			return items, nil
		}
	}

	var items []models.LibraryItem
	for start := 0; ; start += libraryPageSize {
		params := map[string]string{
			"UserId":           s.userID,
			"IncludeItemTypes": "Audio",
			"Recursive":        "true",
			"Fields":           trackFields,
			"StartIndex":       strconv.Itoa(start),
			"Limit":            strconv.Itoa(libraryPageSize),
		}
		var page itemsPage
		if err := s.get(ctx, "/Items", params, &page); err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			it := raw.item()
			if it.Name == "" || it.PrimaryArtist() == "" {
				continue
			}
			items = append(items, it)
		}
		if len(page.Items) < libraryPageSize {
			break
		}
	}

	s.cache.Set(libraryCache, s.userID, items, s.settings.TTL("library", defaultLibraryTTL))
	s.logger.WithField("items", len(items)).Info("Scanned music library")
	return items, nil
}

func (s *Service) get(ctx context.Context, path string, params map[string]string, out interface{}) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		s.watchdog.RecordFailure(ServiceName)
		return errors.Wrap(err, errors.CategorySource, "SOURCE_UNAVAILABLE", "library request failed").
			WithContext("path", path)
	}
	if !resp.IsSuccess() {
		s.watchdog.RecordFailure(ServiceName)
		return errors.New(errors.CategorySource, "BAD_RESPONSE", "library returned an error status").
			WithContext("path", path).
			WithContext("status", resp.StatusCode())
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			s.watchdog.RecordFailure(ServiceName)
			return errors.Wrap(err, errors.CategorySource, "BAD_RESPONSE", "library response could not be decoded").
				WithContext("path", path)
		}
	}
	s.watchdog.RecordSuccess(ServiceName)
	return nil
}

func (s *Service) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(path)
	if err != nil {
		s.watchdog.RecordFailure(ServiceName)
		return errors.Wrap(err, errors.CategorySource, "SOURCE_UNAVAILABLE", "library request failed").
			WithContext("path", path)
	}
	if !resp.IsSuccess() {
		s.watchdog.RecordFailure(ServiceName)
		return errors.New(errors.CategorySource, "BAD_RESPONSE", "library returned an error status").
			WithContext("path", path).
			WithContext("status", resp.StatusCode())
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			s.watchdog.RecordFailure(ServiceName)
			return errors.Wrap(err, errors.CategorySource, "BAD_RESPONSE", "library response could not be decoded").
				WithContext("path", path)
		}
	}
	s.watchdog.RecordSuccess(ServiceName)
	return nil
}
