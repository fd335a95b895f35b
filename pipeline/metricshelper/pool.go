package metricshelper

import (
	"fmt"
	"sync"
)

// 标签切片池的容量大小
const capacity = 8

// 标签切片对象池,用于复用指标标签切片
var stringPool = sync.Pool{New: func() any {
	s := make([]string, 0, capacity)
	return &s
}}

// GetStringSlice 从对象池获取一个标签切片
// 返回值:
//   - *[]string 标签切片指针,长度为 0
func GetStringSlice() *[]string {
	s := stringPool.Get().(*[]string)
	*s = (*s)[:0]
	return s
}

// PutStringSlice 把标签切片放回对象池
// 参数:
//   - s: *[]string 要放回的标签切片指针
func PutStringSlice(s *[]string) {
	if c := cap(*s); c < capacity {
		panic(fmt.Sprintf("预期标签切片容量不小于 %d,实际获得 %d", capacity, c))
	}
	stringPool.Put(s)
}
