package utils

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// StringPtr 返回字符串的指针，可空列赋值用
func StringPtr(s string) *string {
	return &s
}

// TimePtr 返回时间的指针，零值时间返回nil以落NULL列
func TimePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// CalculateMD5 计算字节串的MD5十六进制摘要。
// 提取文本去重与查询向量缓存键都用这一口径
func CalculateMD5(data []byte) string {
	hasher := md5.New()
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil))
}

// ConvertArrayToJSON 把字符串数组编码为JSON列值，空数组与编码失败都落"[]"
func ConvertArrayToJSON(arr []string) datatypes.JSON {
	if len(arr) == 0 {
		return datatypes.JSON("[]")
	}
	jsonBytes, err := json.Marshal(arr)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(jsonBytes)
}
