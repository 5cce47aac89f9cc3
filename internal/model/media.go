package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// MediaItem 消息携带的一个媒体项
// URL可以是远程资源地址或内联data URI，Type是MIME类型（区分图片/视频渲染）
type MediaItem struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

func (m MediaItem) IsVideo() bool {
	return strings.HasPrefix(m.Type, "video/")
}

// MediaList 以JSON列的形式存储消息的媒体列表
type MediaList []MediaItem

func (l MediaList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return nil, nil
	}
	return json.Marshal(l)
}

func (l *MediaList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for MediaList: %T", value)
	}
	return json.Unmarshal(data, l)
}
