// serve.go — выдача файлов из хранилища с проверкой аутентификации,
// защитой от выхода за корень и условным GET (If-Modified-Since).
package handlers

import (
	"context"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	apierrors "github.com/bigkaa/imagehost/internal/api/errors"
	"github.com/bigkaa/imagehost/internal/domain/model"
	"github.com/bigkaa/imagehost/internal/storage"
)

// encodingSuffixes — расширения, задающие Content-Encoding.
// a.tar.gz → application/x-tar + gzip.
var encodingSuffixes = map[string]string{
	".gz":  "gzip",
	".bz2": "bzip2",
	".xz":  "xz",
	".br":  "br",
	".Z":   "compress",
}

// FileServer выдаёт файлы из хранилища, ограниченные префиксом root.
type FileServer struct {
	files       storage.Storage
	root        string
	showIndexes bool
	logger      *slog.Logger
}

// NewFileServer создаёт FileServer. root — префикс ключей (пустой — корень хранилища).
// showIndexes разрешает HTML-листинг директорий.
func NewFileServer(files storage.Storage, root string, showIndexes bool, logger *slog.Logger) *FileServer {
	return &FileServer{
		files:       files,
		root:        root,
		showIndexes: showIndexes,
		logger:      logger.With(slog.String("component", "file_server")),
	}
}

// Serve отдаёт файл по относительному пути rel внутри root.
//
// Порядок проверок: аутентификация (u != nil), нормализация пути,
// директория (листинг или 404), существование, If-Modified-Since.
func (fs *FileServer) Serve(w http.ResponseWriter, r *http.Request, u *model.User, rel string) {
	if u == nil {
		apierrors.AuthenticationFailed(w, "Требуется аутентификация")
		return
	}

	key, err := storage.Join(fs.root, rel)
	if err != nil {
		apierrors.ValidationError(w, "Недопустимый путь")
		return
	}

	info, err := fs.files.Stat(r.Context(), key)
	if err != nil {
		fs.writeStorageError(w, key, err)
		return
	}
	if info.IsDir {
		if !fs.showIndexes {
			apierrors.NotFound(w, "Листинг директорий запрещён")
			return
		}
		fs.serveIndex(w, r, key, rel)
		return
	}

	fs.serveKey(w, r, key, info)
}

// ServeKey отдаёт файл по полному ключу, уже прошедшему проверки доступа.
func (fs *FileServer) ServeKey(w http.ResponseWriter, r *http.Request, key string) {
	info, err := fs.files.Stat(r.Context(), key)
	if err != nil {
		fs.writeStorageError(w, key, err)
		return
	}
	if info.IsDir {
		apierrors.NotFound(w, "Файл не найден")
		return
	}
	fs.serveKey(w, r, key, info)
}

func (fs *FileServer) serveKey(w http.ResponseWriter, r *http.Request, key string, info storage.Info) {
	if !modifiedSince(r.Header.Get("If-Modified-Since"), info.ModTime) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	rc, info, err := fs.files.Open(r.Context(), key)
	if err != nil {
		fs.writeStorageError(w, key, err)
		return
	}
	defer rc.Close()

	contentType, encoding := guessType(key)
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Last-Modified", info.ModTime.UTC().Format(http.TimeFormat))
	h.Set("Content-Length", strconv.FormatInt(info.Size, 10))
	if encoding != "" {
		h.Set("Content-Encoding", encoding)
	}
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, rc); err != nil && !errors.Is(err, context.Canceled) {
		fs.logger.Warn("Ошибка передачи файла",
			slog.String("storage_key", key),
			slog.String("error", err.Error()),
		)
	}
}

func (fs *FileServer) writeStorageError(w http.ResponseWriter, key string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotExist):
		apierrors.NotFound(w, "Файл не найден")
	case errors.Is(err, storage.ErrInvalidKey):
		apierrors.ValidationError(w, "Недопустимый путь")
	case errors.Is(err, storage.ErrIsDir):
		apierrors.NotFound(w, "Файл не найден")
	default:
		fs.logger.Error("Ошибка чтения из хранилища",
			slog.String("storage_key", key),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка чтения файла")
	}
}

// modifiedSince возвращает false, если клиентская копия актуальна.
// Сравнение с точностью до секунды (формат HTTP-даты).
func modifiedSince(header string, modTime time.Time) bool {
	if header == "" || modTime.IsZero() {
		return true
	}
	since, err := http.ParseTime(header)
	if err != nil {
		return true
	}
	return modTime.Truncate(time.Second).After(since)
}

// guessType определяет Content-Type и Content-Encoding по имени файла.
// Неизвестный тип — application/octet-stream.
func guessType(name string) (contentType, encoding string) {
	base := path.Base(name)
	if enc, ok := encodingSuffixes[path.Ext(base)]; ok {
		encoding = enc
		base = strings.TrimSuffix(base, path.Ext(base))
	}
	contentType = mime.TypeByExtension(strings.ToLower(path.Ext(base)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return contentType, encoding
}

// --- Листинг директорий ---

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Index of {{.Path}}</title></head>
<body>
<h1>Index of {{.Path}}</h1>
<ul>
{{- if .Path}}
<li><a href="../">../</a></li>
{{- end}}
{{- range .Entries}}
<li><a href="{{.Href}}">{{.Name}}</a></li>
{{- end}}
</ul>
</body>
</html>
`))

type indexEntry struct {
	Name string
	Href string
}

// serveIndex отдаёт листинг директории. Ссылки в листинге относительные,
// поэтому адрес директории без завершающего "/" перенаправляется.
func (fs *FileServer) serveIndex(w http.ResponseWriter, r *http.Request, key, rel string) {
	if !strings.HasSuffix(r.URL.Path, "/") {
		target := path.Base(r.URL.Path) + "/"
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		w.Header().Set("Location", target)
		w.WriteHeader(http.StatusMovedPermanently)
		return
	}

	items, err := fs.files.List(r.Context(), key)
	if err != nil {
		fs.writeStorageError(w, key, err)
		return
	}

	entries := make([]indexEntry, 0, len(items))
	for _, it := range items {
		name := it.Name()
		// Скрытые и временные файлы (.tmp-*) не показываются
		if strings.HasPrefix(name, ".") {
			continue
		}
		if it.IsDir {
			name += "/"
		}
		entries = append(entries, indexEntry{Name: name, Href: name})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	displayPath, _ := storage.CleanKey(rel)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := indexTemplate.Execute(w, struct {
		Path    string
		Entries []indexEntry
	}{Path: displayPath, Entries: entries}); err != nil {
		fs.logger.Warn("Ошибка рендеринга листинга", slog.String("error", err.Error()))
	}
}
