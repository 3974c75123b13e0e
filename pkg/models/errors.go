package models

import (
	"errors"
)

// Ошибки доменного уровня. Проверяются через errors.Is, на границе API
// преобразуются в машиночитаемые коды.
var (
	// ErrCodeNotFound возвращается при поиске несуществующего кода
	ErrCodeNotFound = errors.New("реферальный код не найден")

	// ErrInvalidCode возвращается для несуществующего или деактивированного кода
	ErrInvalidCode = errors.New("недействительный реферальный код")

	// ErrCodeConflict возвращается при коллизии значения кода
	ErrCodeConflict = errors.New("код с таким значением уже существует")

	// ErrInvalidTransition возвращается, когда запись не находится в ожидаемом
	// исходном статусе: конкурирующий переход уже произошел или вызов ошибочен
	ErrInvalidTransition = errors.New("недопустимый переход статуса")

	// ErrEntryNotFound возвращается при поиске несуществующей записи леджера
	ErrEntryNotFound = errors.New("запись леджера не найдена")

	// ErrInsufficientBalance возвращается, когда прошедший клиринг баланс
	// меньше минимальной суммы выплаты
	ErrInsufficientBalance = errors.New("недостаточный баланс для выплаты")

	// ErrNoPayoutMethod возвращается, когда у владельца не настроен способ выплаты
	ErrNoPayoutMethod = errors.New("способ выплаты не настроен")

	// ErrInvalidPayoutMethod возвращается для неизвестного способа выплаты
	ErrInvalidPayoutMethod = errors.New("неизвестный способ выплаты")

	// ErrPayoutNotFound возвращается при поиске несуществующего запроса на выплату
	ErrPayoutNotFound = errors.New("запрос на выплату не найден")
)
