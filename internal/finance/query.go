package finance

import (
	"net/url"
	"strconv"
	"strings"
)

// Op はフィルタの比較演算子。
type Op string

// 利用可能な比較演算子。
const (
	OpEq  Op = "="
	OpNeq Op = "!="
	OpGt  Op = ">"
	OpGte Op = ">="
	OpLt  Op = "<"
	OpLte Op = "<="
)

// Filter は "column operator value" 形式の1つの絞り込み条件。
type Filter struct {
	Column string
	Op     Op
	Value  string
}

// String はAPIに渡すフィルタ式を返す。
func (f Filter) String() string {
	return f.Column + " " + string(f.Op) + " " + f.Value
}

// Eq は等価条件を生成する。
func Eq(column, value string) Filter {
	return Filter{Column: column, Op: OpEq, Value: value}
}

// Between は from <= column <= to の範囲条件を生成する。
func Between(column, from, to string) []Filter {
	return []Filter{
		{Column: column, Op: OpGte, Value: from},
		{Column: column, Op: OpLte, Value: to},
	}
}

// Query は1ページ分の取得条件。
type Query struct {
	Filters []Filter
	Limit   int
	Offset  int
}

// Values はクエリ文字列を生成する。複数のフィルタは ";" で連結する。
func (q Query) Values() url.Values {
	v := url.Values{}
	if len(q.Filters) > 0 {
		parts := make([]string, 0, len(q.Filters))
		for _, f := range q.Filters {
			parts = append(parts, f.String())
		}
		v.Set("filter", strings.Join(parts, ";"))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	return v
}
