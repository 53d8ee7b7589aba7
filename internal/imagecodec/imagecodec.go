// Пакет imagecodec — декодирование, конвертация и масштабирование изображений.
// Обёртка над disintegration/imaging с фиксированными параметрами сервиса.
package imagecodec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"path"
	"strings"

	"github.com/disintegration/imaging"
)

// Цветовые режимы binary image.
const (
	// ColorModeBinary — чёрно-белое изображение (порог яркости).
	ColorModeBinary = "binary"
	// ColorModeGrayscale — оттенки серого.
	ColorModeGrayscale = "grayscale"
)

// Выходные форматы.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
)

// threshold — порог яркости для режима binary.
const threshold = 128

// ErrUnsupportedFormat — формат не поддерживается кодеком.
var ErrUnsupportedFormat = errors.New("неподдерживаемый формат изображения")

// allowedExtensions — допустимые расширения загружаемых изображений.
var allowedExtensions = map[string]string{
	"png":  FormatPNG,
	"jpeg": FormatJPEG,
	"jpg":  FormatJPEG,
}

// Codec — параметры конвертации binary image.
type Codec struct {
	ColorMode string
	Format    string
	Quality   int
}

// New создаёт Codec. Формат "jpg" приводится к "jpeg".
func New(colorMode, format string, quality int) (*Codec, error) {
	format = NormalizeFormat(format)
	if format != FormatJPEG && format != FormatPNG {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if colorMode != ColorModeBinary && colorMode != ColorModeGrayscale {
		return nil, fmt.Errorf("неизвестный цветовой режим: %s", colorMode)
	}
	if quality < 1 || quality > 100 {
		return nil, fmt.Errorf("качество JPEG вне диапазона [1, 100]: %d", quality)
	}
	return &Codec{ColorMode: colorMode, Format: format, Quality: quality}, nil
}

// NormalizeFormat приводит имя формата к нижнему регистру, jpg → jpeg.
func NormalizeFormat(format string) string {
	format = strings.ToLower(format)
	if format == "jpg" {
		return FormatJPEG
	}
	return format
}

// Extension возвращает расширение имени файла в нижнем регистре без точки.
func Extension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
}

// AllowedExtension проверяет, что расширение файла входит в {png, jpeg, jpg}.
func AllowedExtension(filename string) bool {
	_, ok := allowedExtensions[Extension(filename)]
	return ok
}

// ContentType возвращает MIME-тип по имени файла изображения.
func ContentType(filename string) string {
	switch allowedExtensions[Extension(filename)] {
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	}
	return "application/octet-stream"
}

// DerivedName строит имя binary image: {stem}-binary.{ext}.
func DerivedName(filename, ext string) string {
	base := path.Base(filename)
	stem := strings.TrimSuffix(base, path.Ext(base))
	return stem + "-binary." + ext
}

// Decode декодирует изображение с учётом EXIF-ориентации.
func (c *Codec) Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("ошибка декодирования изображения: %w", err)
	}
	return img, nil
}

// Binarize конвертирует изображение в цветовой режим кодека и кодирует
// в выходной формат. Возвращает данные и расширение файла.
func (c *Codec) Binarize(src image.Image) ([]byte, string, error) {
	converted := imaging.Grayscale(src)
	if c.ColorMode == ColorModeBinary {
		converted = imaging.AdjustFunc(converted, func(px color.NRGBA) color.NRGBA {
			v := uint8(0)
			if px.R >= threshold {
				v = 255
			}
			return color.NRGBA{R: v, G: v, B: v, A: px.A}
		})
	}

	data, err := c.encode(converted, c.Format)
	if err != nil {
		return nil, "", err
	}
	return data, c.Format, nil
}

// Thumbnail масштабирует изображение в квадрат size×size с сохранением
// пропорций и кодирует в формат ext исходного файла.
func (c *Codec) Thumbnail(src image.Image, size int, ext string) ([]byte, error) {
	format, ok := allowedExtensions[strings.ToLower(ext)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	thumb := imaging.Fit(src, size, size, imaging.Lanczos)
	return c.encode(thumb, format)
}

func (c *Codec) encode(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case FormatJPEG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(c.Quality))
	case FormatPNG:
		err = imaging.Encode(&buf, img, imaging.PNG)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка кодирования %s: %w", format, err)
	}
	return buf.Bytes(), nil
}
