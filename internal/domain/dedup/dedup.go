// Пакет dedup — слияние дубликатов в списке кредиторов дела.
//
// Идентичность кредитора: reference_number + нормализованное sender_name.
// Записи без номера требования попадают в общую корзину no_ref и
// группируются только по имени. В каждой группе дубликатов остаётся одна
// запись (по стратегии), остальные перечисляются в её provenance.
//
// Функции чистые: не обращаются к хранилищу и не меняют входной срез.
package dedup

import (
	"strings"
	"time"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
)

// noRefKey — корзина для записей без номера требования.
const noRefKey = "no_ref"

// Dedupe сливает дубликаты по стратегии.
// Порядок результата — порядок первого появления группы во входе.
// len(результат) <= len(creditors); каждый входной id либо остаётся,
// либо попадает в duplicate_ids победителя своей группы.
func Dedupe(creditors []model.Creditor, strategy model.DedupStrategy, now time.Time) []model.Creditor {
	if len(creditors) == 0 {
		return []model.Creditor{}
	}

	groups := make(map[string][]int, len(creditors))
	keys := make([]string, 0, len(creditors))
	for i := range creditors {
		k := groupKey(&creditors[i])
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], i)
	}

	out := make([]model.Creditor, 0, len(keys))
	for _, k := range keys {
		idx := groups[k]
		if len(idx) == 1 {
			out = append(out, creditors[idx[0]].Clone())
			continue
		}
		out = append(out, collapse(creditors, idx, strategy, now))
	}
	return out
}

// Merge вливает новые записи в существующий список: Dedupe(existing ++ incoming).
// Повторный прогон не обязательно идемпотентен, если суммы изменились между прогонами.
func Merge(existing, incoming []model.Creditor, strategy model.DedupStrategy, now time.Time) []model.Creditor {
	all := make([]model.Creditor, 0, len(existing)+len(incoming))
	all = append(all, existing...)
	all = append(all, incoming...)
	return Dedupe(all, strategy, now)
}

// NormalizeSenderName приводит имя к ключу сравнения:
// нижний регистр, без краевых пробелов, одиночные пробелы внутри.
func NormalizeSenderName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

func groupKey(c *model.Creditor) string {
	ref := strings.TrimSpace(c.ReferenceNumber)
	if ref == "" {
		ref = noRefKey
	}
	return ref + "\x00" + NormalizeSenderName(c.SenderName)
}

// collapse выбирает победителя группы и переносит в него provenance.
func collapse(creditors []model.Creditor, idx []int, strategy model.DedupStrategy, now time.Time) model.Creditor {
	winner := pickSurvivor(creditors, idx, strategy)
	survivor := creditors[winner].Clone()

	var dupIDs []string
	if survivor.Deduplication != nil {
		dupIDs = append(dupIDs, survivor.Deduplication.DuplicateIDs...)
	}
	for _, i := range idx {
		if i == winner {
			continue
		}
		dupIDs = append(dupIDs, creditors[i].ID)
		if p := creditors[i].Deduplication; p != nil {
			dupIDs = append(dupIDs, p.DuplicateIDs...)
		}
	}

	used := strategy
	switch strategy {
	case model.StrategyHighestAmount, model.StrategyLatest:
	default:
		used = model.StrategyFirst
	}

	survivor.Deduplication = &model.DedupProvenance{
		OriginalCount:  len(idx),
		DuplicateIDs:   dupIDs,
		StrategyUsed:   used,
		DeduplicatedAt: now,
	}
	return survivor
}

// pickSurvivor возвращает индекс победителя. При равенстве побеждает первый.
func pickSurvivor(creditors []model.Creditor, idx []int, strategy model.DedupStrategy) int {
	best := idx[0]
	switch strategy {
	case model.StrategyHighestAmount:
		for _, i := range idx[1:] {
			if creditors[i].ClaimAmount.Cmp(creditors[best].ClaimAmount.Decimal) > 0 {
				best = i
			}
		}
	case model.StrategyLatest:
		for _, i := range idx[1:] {
			if timestampOf(&creditors[i]).After(timestampOf(&creditors[best])) {
				best = i
			}
		}
	}
	return best
}

// timestampOf — created_at, затем confirmed_at, иначе начало эпохи.
func timestampOf(c *model.Creditor) time.Time {
	switch {
	case c.CreatedAt != nil:
		return *c.CreatedAt
	case c.ConfirmedAt != nil:
		return *c.ConfirmedAt
	default:
		return time.Unix(0, 0)
	}
}
