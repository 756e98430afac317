package loader

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	defaultFileName = "unnamed"
	maxBaseNameLen  = 100
	maxExtLen       = 10
)

// constructFileName строит безопасное локальное имя файла:
//
//   - обрезает путь;
//   - сохраняет собственное расширение (только буквы и цифры), а если его нет,
//     подставляет fallbackExt;
//   - если uniqueNum > 0, базовое имя дополняется суффиксом '-<uniqueNum>';
//   - удаляет управляющие и неграфические символы;
//   - заменяет запрещенные и проблемные символы на '-';
//   - последовательные '-' заменяются на один;
//   - лидирующие и финальные '-' удаляются;
//   - зарезервированные имена windows дополняются символом подчеркивания.
//
// Примеры:
//
//	"/some/path/file.txt", ".png", 0 -> "file.txt"
//	"C:\\some\\path\\scan", ".pdf", 0 -> "scan.pdf"
//	"file.txt", ".png", 3 -> "file-3.txt"
//	"Отчет <итог>.PDF", "", 0 -> "Отчет-итог.pdf"
//	"con..txt", ".png", 0 -> "con_.txt"
func constructFileName(fileName string, fallbackExt string, uniqueNum int) string {
	ext := fallbackExt

	// Удалить путь
	if p := strings.LastIndexAny(fileName, `/\`); p != -1 {
		fileName = fileName[p+1:]
	}

	// Отделить расширение (всё после последней точки)
	if p := strings.LastIndexByte(fileName, '.'); p != -1 {
		if own := sanitizeExt(fileName[p+1:]); own != "" {
			ext = own
		}
		fileName = fileName[:p]
	}

	baseName := sanitizeFilename(fileName, maxBaseNameLen)

	if uniqueNum > 0 {
		return baseName + "-" + strconv.Itoa(uniqueNum) + ext
	}

	// Защита от зарезервированных имён Windows
	if isReservedName(baseName) {
		baseName = baseName + "_"
	}

	return baseName + ext
}

// sanitizeExt возвращает ".ext" в нижнем регистре или "", если в расширении
// есть что-то кроме букв и цифр.
func sanitizeExt(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxExtLen {
		return ""
	}
	for _, r := range s {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return ""
		}
	}
	return "." + strings.ToLower(s)
}

// ASCII опасные символы
const asciiProblem = `<>:"/\|?*~.;#$%&'(){}[]!` + "`"

// Fullwidth неопасные символы, но вводят в заблуждение
const fullwidthProblem = "＜＞：＂／＼｜？＊～；＃＄％＆＇（）｛｝［］！"

// replaceRune замена символа имени файла: '-' для пробелов и проблемных
// символов, -1 для символов, которые надо удалить.
func replaceRune(r rune) rune {
	switch {
	case unicode.IsSpace(r):
		return '-'
	case unicode.IsControl(r) || !unicode.IsPrint(r):
		return -1
	case strings.ContainsRune(asciiProblem, r), strings.ContainsRune(fullwidthProblem, r):
		return '-'
	}
	return r
}

// sanitizeFilename оставляет не больше maxLen символов, схлопывает
// последовательные '-' и убирает их по краям.
func sanitizeFilename(s string, maxLen int) string {
	out := make([]rune, 0, maxLen)
	for _, r := range s {
		if len(out) >= maxLen {
			break
		}
		r = replaceRune(r)
		if r < 0 {
			continue
		}
		if r == '-' && (len(out) == 0 || out[len(out)-1] == '-') {
			continue
		}
		out = append(out, r)
	}

	name := strings.TrimSuffix(string(out), "-")
	if name == "" {
		return defaultFileName
	}
	return name
}

// isReservedName имена устройств Windows: CON, PRN, AUX, NUL, COM1-9, LPT1-9
// (включая надстрочные цифры ¹²³).
func isReservedName(name string) bool {
	up := strings.ToUpper(name)
	switch up {
	case "CON", "PRN", "AUX", "NUL":
		return true
	}
	if !strings.HasPrefix(up, "COM") && !strings.HasPrefix(up, "LPT") {
		return false
	}
	n := up[3:]
	return utf8.RuneCountInString(n) == 1 && strings.Contains("123456789¹²³", n)
}
