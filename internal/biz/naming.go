package biz

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"slurm-service/internal/batch"
)

// plainIDPattern 不含连字符的实体 id
var plainIDPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// AccountName 生成远端账户名：<prefix>_<tier>_<id>，id 去掉连字符
func AccountName(prefix, tier, id string) string {
	return tierPrefix(prefix, tier) + CanonicalID(id)
}

// ParseAccountName 从账户名中取出指定层级的 id，不匹配时 ok 为 false
func ParseAccountName(prefix, tier, name string) (id string, ok bool) {
	id, ok = strings.CutPrefix(name, tierPrefix(prefix, tier))
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// CanonicalID 平台实体 id 的规范形式（uuid 去掉连字符）
func CanonicalID(id string) string {
	return strings.ReplaceAll(id, "-", "")
}

// ValidID 实体 id 只能是标准 uuid 或不含连字符的字母数字串。
// 其他带连字符的 id 去掉连字符后可能与别的 id 重名，一律拒绝。
func ValidID(id string) bool {
	if strings.Contains(id, "-") {
		_, err := uuid.Parse(id)
		return err == nil && len(id) == 36
	}
	return plainIDPattern.MatchString(id)
}

// ValidUsername 远端用户名可以直接作为命令参数
func ValidUsername(username string) bool {
	return batch.ValidName(username)
}

func tierPrefix(prefix, tier string) string {
	return prefix + "_" + tier + "_"
}
