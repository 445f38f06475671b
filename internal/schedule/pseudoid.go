package schedule

import (
	"strconv"
	"time"
)

// Виртуальным слотам нужны стабильные числовые идентификаторы до того, как
// в базе появится строка. Используются два непересекающихся пространства:
//
//   - шаблонные: десятичная запись id шаблона, дописанная временем начала в
//     секундах эпохи, свёрнутая по модулю eventPseudoIDModulus. Детерминированно,
//     но обратно не разбирается — материализация ищет слот повторной развёрткой;
//   - legacy: id строки старого планировщика плюс фиксированное смещение.
//     Обратимо, поэтому слот находится прямым чтением строки.
//
// Модуль строго меньше смещения, так что шаблонные псевдо-id никогда не
// попадают в legacy-диапазон.
const (
	eventPseudoIDModulus   = 1_999_999_999
	schedulePseudoIDOffset = 2_000_000_000
)

// EventPseudoID возвращает псевдо-id виртуального вхождения шаблона.
// Чистая функция от (id шаблона, время начала).
func EventPseudoID(templateID uint, start time.Time) uint {
	s := strconv.FormatUint(uint64(templateID), 10) + strconv.FormatInt(start.UTC().Unix(), 10)
	// Свёртка по цифрам вместо ParseUint: конкатенация может не влезть в uint64.
	var m uint64
	for i := 0; i < len(s); i++ {
		m = (m*10 + uint64(s[i]-'0')) % eventPseudoIDModulus
	}
	return uint(m)
}

// SchedulePseudoID возвращает псевдо-id для строки старого планировщика.
func SchedulePseudoID(scheduleID uint) uint {
	return scheduleID + schedulePseudoIDOffset
}

// IsSchedulePseudoID сообщает, лежит ли идентификатор в legacy-диапазоне.
func IsSchedulePseudoID(id uint) bool {
	return id >= schedulePseudoIDOffset
}

// ScheduleIDFromPseudo восстанавливает id строки планировщика из псевдо-id.
func ScheduleIDFromPseudo(id uint) uint {
	return id - schedulePseudoIDOffset
}
